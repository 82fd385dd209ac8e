package web

import "embed"

// Dist embeds the dashboard assets from the web/dist directory. The
// bundled page talks to the /api/v1 routes of `kaos-console serve`.
//
//go:embed all:dist
var Dist embed.FS
