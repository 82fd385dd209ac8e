package main

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/alexsjones/kaos-console/internal/apiserver"
	"github.com/alexsjones/kaos-console/internal/config"
	"github.com/alexsjones/kaos-console/internal/eventbus"
	"github.com/alexsjones/kaos-console/internal/monitor"
	"github.com/alexsjones/kaos-console/internal/observability"
	"github.com/alexsjones/kaos-console/internal/session"
	"github.com/alexsjones/kaos-console/web"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		addr    string
		noWeb   bool
		noStore bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard backend and web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.settings()
			if err != nil {
				return err
			}
			if addr != "" {
				st.Server.Addr = addr
			}

			log := zap.New(zap.UseDevMode(o.devLog || st.Server.DevLog))
			ctrllog.SetLogger(log)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			tel, err := observability.Setup(ctx, observability.Config{
				Enabled:     st.Telemetry.Enabled,
				Endpoint:    st.Telemetry.Endpoint,
				Protocol:    st.Telemetry.Protocol,
				ServiceName: st.Telemetry.ServiceName,
			}, log.WithName("telemetry"))
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()

			var store session.Store
			if !noStore && st.Store.DSN != "" {
				store, err = session.Open(ctx, st.Store.DSN)
				if err != nil {
					return fmt.Errorf("opening transcript store: %w", err)
				}
				defer func() { _ = store.Close() }()
			}

			bus, err := eventbus.New(st.EventBus.URL)
			if err != nil {
				return fmt.Errorf("connecting to event bus: %w", err)
			}
			defer func() { _ = bus.Close() }()

			var static fs.FS
			if !noWeb {
				if sub, err := fs.Sub(web.Dist, "dist"); err == nil {
					static = sub
				}
			}

			var srv *apiserver.Server
			mon, err := monitor.New(func() monitor.Prober { return srv.Client() }, st.Monitor.Interval.Duration, log.WithName("monitor"))
			if err != nil {
				return err
			}
			srv, err = apiserver.NewServer(apiserver.Options{
				Settings:     st,
				SettingsPath: o.path(),
				Store:        store,
				EventBus:     bus,
				Monitor:      mon,
				Telemetry:    tel,
				Static:       static,
				Log:          log.WithName("apiserver"),
			})
			if err != nil {
				return err
			}

			mon.Start(ctx)
			defer mon.Stop()

			watcher := config.NewWatcher(o.path(), log.WithName("config"), func(next config.Settings) {
				o.override(&next.Connection)
				if next.Connection == srv.Settings().Connection {
					return
				}
				if err := srv.ApplySettings(next); err != nil {
					log.Error(err, "settings file changed but could not be applied")
					return
				}
				mon.Check(ctx)
			})
			go func() {
				if err := watcher.Run(ctx); err != nil {
					log.Error(err, "settings watcher stopped")
				}
			}()

			return srv.Start(ctx, st.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from settings, :8080)")
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "Serve the API only")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist chat transcripts")
	return cmd
}
