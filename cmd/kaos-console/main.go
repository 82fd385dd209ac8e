// Package main provides the kaos-console CLI and dashboard backend for KAOS
// agents, model APIs and MCP servers.
package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/alexsjones/kaos-console/internal/config"
	"github.com/alexsjones/kaos-console/internal/kube"
)

// version is set via -ldflags at build time.
var version = "dev"

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	baseURL    string
	namespace  string
	kubeconfig string
	context    string
	output     string
	devLog     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "kaos-console",
		Short: "kaos-console - dashboard and CLI for KAOS agents",
		Long: `kaos-console manages KAOS ModelAPIs, MCPServers and Agents through the
Kubernetes API, chats with agents through the API server's service proxy and
serves the web dashboard.

The cluster is reached through a public tunnel or kubectl proxy (--base-url)
or through a kubeconfig (--kubeconfig, --context).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch o.output {
			case "table", "json", "yaml":
				return nil
			}
			return fmt.Errorf("unsupported output format %q (table, json, yaml)", o.output)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "Path to the settings file (default $"+config.EnvConfigPath+" or the user config dir)")
	flags.StringVar(&o.baseURL, "base-url", "", "Kubernetes API base URL, e.g. a tunnel or kubectl proxy")
	flags.StringVarP(&o.namespace, "namespace", "n", "", "Kubernetes namespace")
	flags.StringVar(&o.kubeconfig, "kubeconfig", "", "Path to kubeconfig")
	flags.StringVar(&o.context, "context", "", "Kubeconfig context")
	flags.StringVarP(&o.output, "output", "o", "table", "Output format: table, json or yaml")
	flags.BoolVar(&o.devLog, "dev-log", false, "Human readable debug logging")

	rootCmd.AddCommand(
		newServeCmd(o),
		newModelAPIsCmd(o),
		newMCPServersCmd(o),
		newAgentsCmd(o),
		newApplyCmd(o),
		newPodsCmd(o),
		newModelsCmd(o),
		newChatCmd(o),
		newStatusCmd(o),
		newConfigCmd(o),
		newVersionCmd(),
	)
	return rootCmd
}

// path is the settings file in use.
func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.Path()
}

// settings loads the settings file and applies the connection flags on top.
func (o *rootOptions) settings() (config.Settings, error) {
	st, err := config.Load(o.path())
	if err != nil {
		return config.Settings{}, err
	}
	o.override(&st.Connection)
	return st, nil
}

// override applies the connection flags. Choosing a kubeconfig or context
// on the command line drops a base URL that only came from the file.
func (o *rootOptions) override(c *config.Connection) {
	if o.kubeconfig != "" || o.context != "" {
		c.BaseURL = ""
		c.Kubeconfig = o.kubeconfig
		c.Context = o.context
	}
	if o.baseURL != "" {
		c.BaseURL = o.baseURL
	}
	if o.namespace != "" {
		c.Namespace = o.namespace
	}
}

func (o *rootOptions) logger() logr.Logger {
	return zap.New(zap.UseDevMode(o.devLog), zap.WriteTo(os.Stderr))
}

// client returns a connected client or explains how to configure one.
func (o *rootOptions) client() (*kube.Client, error) {
	st, err := o.settings()
	if err != nil {
		return nil, err
	}
	log := logr.Discard()
	if o.devLog {
		log = o.logger().WithName("kube")
	}
	c, err := config.NewClient(st.Connection, log)
	if err != nil {
		return nil, err
	}
	if !c.Configured() {
		return nil, fmt.Errorf("%w: pass --base-url or --kubeconfig, or run: kaos-console config set base_url <url>", kube.ErrNotConfigured)
	}
	return c, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kaos-console %s\n", version)
		},
	}
}
