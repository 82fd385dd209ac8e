package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/alexsjones/kaos-console/internal/config"
	"github.com/alexsjones/kaos-console/internal/kube"
	"github.com/alexsjones/kaos-console/internal/monitor"
)

// ── Styles ──────────────────────────────────────────────────────────────────

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#E94560"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#74C7EC")).
			Bold(true).
			Width(12)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#585B70"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9E2AF"))

	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F5C2E7"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#E94560")).
			Padding(0, 1)
)

// kindStatus summarizes one KAOS kind for the status view.
type kindStatus struct {
	State kube.ListState `json:"state"`
	Count int            `json:"count"`
	Ready int            `json:"ready"`
	Error string         `json:"error,omitempty"`
}

type statusReport struct {
	BaseURL    string                `json:"baseUrl"`
	Namespace  string                `json:"namespace"`
	Connection monitor.State         `json:"connection"`
	Kinds      map[string]kindStatus `json:"kinds,omitempty"`
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the cluster connection and the KAOS resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			report := collectStatus(ctx, c)
			return o.printer(cmd.OutOrStdout()).print(report, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, renderStatus(report))
				return err
			})
		},
	}
}

func collectStatus(ctx context.Context, c *kube.Client) statusReport {
	report := statusReport{
		BaseURL:    c.Config().BaseURL,
		Namespace:  c.Config().Namespace,
		Connection: monitor.Probe(ctx, c),
	}
	if !report.Connection.Connected {
		return report
	}
	report.Kinds = map[string]kindStatus{}

	models := c.ListModelAPIs(ctx, "")
	ready := 0
	for _, m := range models.Items {
		if m.Status.Ready {
			ready++
		}
	}
	report.Kinds["ModelAPIs"] = summarize(len(models.Items), ready, models.State, models.Err)

	servers := c.ListMCPServers(ctx, "")
	ready = 0
	for _, m := range servers.Items {
		if m.Status.Ready {
			ready++
		}
	}
	report.Kinds["MCPServers"] = summarize(len(servers.Items), ready, servers.State, servers.Err)

	agents := c.ListAgents(ctx, "")
	ready = 0
	for _, a := range agents.Items {
		if a.Status.Ready {
			ready++
		}
	}
	report.Kinds["Agents"] = summarize(len(agents.Items), ready, agents.State, agents.Err)
	return report
}

func summarize(count, ready int, state kube.ListState, err error) kindStatus {
	k := kindStatus{State: state, Count: count, Ready: ready}
	if err != nil {
		k.Error = err.Error()
	}
	return k
}

func renderStatus(r statusReport) string {
	var b strings.Builder
	b.WriteString(bannerStyle.Render("KAOS") + "  " + r.BaseURL + dimStyle.Render("  namespace "+r.Namespace) + "\n\n")

	conn := successStyle.Render("✓ connected")
	if r.Connection.ServerVersion != "" {
		conn += "  " + dimStyle.Render(r.Connection.ServerVersion)
	}
	if !r.Connection.Connected {
		conn = errorStyle.Render("✗ disconnected") + "  " + dimStyle.Render(r.Connection.Error)
	}
	b.WriteString(labelStyle.Render("Connection") + conn)

	for _, kind := range []string{"ModelAPIs", "MCPServers", "Agents"} {
		k, ok := r.Kinds[kind]
		if !ok {
			continue
		}
		var line string
		switch k.State {
		case kube.ListOK:
			line = fmt.Sprintf("%d/%d ready", k.Ready, k.Count)
			if k.Ready == k.Count {
				line = successStyle.Render(line)
			}
		case kube.ListNotInstalled:
			line = warnStyle.Render("not installed")
		default:
			line = errorStyle.Render("unavailable") + "  " + dimStyle.Render(k.Error)
		}
		b.WriteString("\n" + labelStyle.Render(kind) + line)
	}
	return panelStyle.Render(b.String())
}

func newConfigCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the settings file",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.settings()
			if err != nil {
				return err
			}
			return o.printer(cmd.OutOrStdout()).print(st, func(w io.Writer) error {
				fmt.Fprintln(w, dimStyle.Render("# "+o.path()))
				return toml.NewEncoder(w).Encode(st)
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Change one setting",
		Long:  "Change one setting. Known keys: " + strings.Join(config.Keys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.path()
			st, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			if err := st.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(path, st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated in %s\n", args[0], path)
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the settings file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), o.path())
		},
	}

	cmd.AddCommand(showCmd, setCmd, pathCmd)
	return cmd
}
