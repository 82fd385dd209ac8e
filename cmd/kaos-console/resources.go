package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"

	kaosv1alpha1 "github.com/alexsjones/kaos-console/api/v1alpha1"
	"github.com/alexsjones/kaos-console/internal/kube"
)

// newCustomCmd builds the list, get, delete and health commands of one KAOS
// kind.
func newCustomCmd[T any, PT kube.ObjectPointer[T], L any](
	o *rootOptions,
	use, singular string,
	aliases []string,
	ops func(*kube.Client) kube.CustomResources[T, PT, L],
	header []string,
	row func(PT) []string,
) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Aliases: aliases,
		Short:   "Manage " + use,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List " + use,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			list := ops(c).List(cmd.Context(), "")
			if list.State != kube.ListOK {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s %s: %v\n", use, listStateText(list.State), list.Err)
			}
			return o.printer(cmd.OutOrStdout()).print(list.Items, func(w io.Writer) error {
				rows := make([][]string, 0, len(list.Items))
				for i := range list.Items {
					rows = append(rows, row(PT(&list.Items[i])))
				}
				return writeTable(w, header, rows)
			})
		},
	}

	getCmd := &cobra.Command{
		Use:   "get [name]",
		Short: "Get a " + singular,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			obj, err := ops(c).Get(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			return o.printer(cmd.OutOrStdout()).print(obj, func(w io.Writer) error {
				return writeTable(w, header, [][]string{row(obj)})
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a " + singular,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			st, err := ops(c).Delete(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			return o.printer(cmd.OutOrStdout()).print(st, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s/%s deleted\n", singular, args[0])
				return err
			})
		},
	}

	var ref serviceFlags
	healthCmd := &cobra.Command{
		Use:   "health [name]",
		Short: "Probe the /health endpoint of a " + singular + " service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			h, err := c.ServiceHealth(cmd.Context(), ref.ref(args[0]))
			if err != nil {
				return err
			}
			return o.printer(cmd.OutOrStdout()).print(h, func(w io.Writer) error {
				state := "unhealthy"
				if h.Healthy {
					state = "healthy"
				}
				_, err := fmt.Fprintf(w, "%s/%s %s (HTTP %d)\n", singular, args[0], state, h.StatusCode)
				return err
			})
		},
	}
	ref.register(healthCmd)

	cmd.AddCommand(listCmd, getCmd, deleteCmd, healthCmd)
	return cmd
}

func listStateText(s kube.ListState) string {
	switch s {
	case kube.ListNotInstalled:
		return "not installed in this cluster"
	case kube.ListUnavailable:
		return "unavailable"
	}
	return string(s)
}

func readyText(ready bool) string {
	if ready {
		return "True"
	}
	return "False"
}

func newModelAPIsCmd(o *rootOptions) *cobra.Command {
	return newCustomCmd(o, "modelapis", "modelapi", []string{"modelapi", "ma"}, (*kube.Client).ModelAPIs,
		[]string{"NAME", "MODE", "READY", "PHASE", "ENDPOINT", "AGE"},
		func(m *kaosv1alpha1.ModelAPI) []string {
			return []string{m.Name, string(m.Spec.Mode), readyText(m.Status.Ready),
				orNone(m.Status.Phase), orNone(m.Status.Endpoint), age(m.CreationTimestamp)}
		})
}

func newMCPServersCmd(o *rootOptions) *cobra.Command {
	return newCustomCmd(o, "mcpservers", "mcpserver", []string{"mcpserver", "mcp"}, (*kube.Client).MCPServers,
		[]string{"NAME", "TYPE", "READY", "PHASE", "TOOLS", "AGE"},
		func(m *kaosv1alpha1.MCPServer) []string {
			return []string{m.Name, string(m.Spec.Type), readyText(m.Status.Ready),
				orNone(m.Status.Phase), strconv.Itoa(len(m.Status.AvailableTools)), age(m.CreationTimestamp)}
		})
}

func newAgentsCmd(o *rootOptions) *cobra.Command {
	cmd := newCustomCmd(o, "agents", "agent", []string{"agent"}, (*kube.Client).Agents,
		[]string{"NAME", "MODELAPI", "MODEL", "MCPSERVERS", "READY", "PHASE", "AGE"},
		func(a *kaosv1alpha1.Agent) []string {
			return []string{a.Name, a.Spec.ModelAPI, orNone(a.Spec.Model), orNone(strings.Join(a.Spec.MCPServers, ",")),
				readyText(a.Status.Ready), orNone(a.Status.Phase), age(a.CreationTimestamp)}
		})

	var ref serviceFlags
	cardCmd := &cobra.Command{
		Use:   "card [name]",
		Short: "Show the A2A agent card of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			card, err := c.AgentCard(cmd.Context(), ref.ref(args[0]))
			if err != nil {
				return err
			}
			return o.printer(cmd.OutOrStdout()).print(card, func(w io.Writer) error {
				fmt.Fprintf(w, "Name:        %s\n", card.Name)
				fmt.Fprintf(w, "Description: %s\n", orNone(card.Description))
				fmt.Fprintf(w, "Version:     %s\n", orNone(card.Version))
				rows := make([][]string, 0, len(card.Skills))
				for _, s := range card.Skills {
					rows = append(rows, []string{s.Name, orNone(s.Description)})
				}
				if len(rows) == 0 {
					return nil
				}
				fmt.Fprintln(w)
				return writeTable(w, []string{"SKILL", "DESCRIPTION"}, rows)
			})
		},
	}
	ref.register(cardCmd)
	cmd.AddCommand(cardCmd)
	return cmd
}

// serviceFlags select the Service in front of a KAOS resource.
type serviceFlags struct {
	service string
	port    int
}

func (f *serviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.service, "service", "", "Service name (default: the resource name)")
	cmd.Flags().IntVar(&f.port, "port", kube.DefaultServicePort, "Service port")
}

func (f *serviceFlags) ref(name string) kube.ServiceRef {
	ref := kube.ServiceRef{Name: name, Port: f.port}
	if f.service != "" {
		ref.Name = f.service
	}
	return ref
}

func newApplyCmd(o *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply -f [file]",
		Short: "Create or update resources from a YAML or JSON manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("-f is required")
			}
			var in io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			objs, err := kube.DecodeObjects(in)
			if err != nil {
				return err
			}
			c, err := o.client()
			if err != nil {
				return err
			}
			var errs []error
			for _, obj := range objs {
				name := ""
				if m := obj.Meta(); m != nil {
					name = m.GetName()
				}
				kind := strings.ToLower(string(obj.Kind))
				_, created, err := c.Apply(cmd.Context(), obj)
				if err != nil {
					errs = append(errs, fmt.Errorf("applying %s: %w", name, err))
					continue
				}
				action := "configured"
				if created {
					action = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s %s\n", kind, name, action)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVarP(&file, "filename", "f", "", "Manifest file, or - for stdin")
	return cmd
}

func newPodsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pods",
		Aliases: []string{"pod", "po"},
		Short:   "Inspect pods",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pods",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			pods, err := c.Pods().List(cmd.Context(), "")
			if err != nil {
				return err
			}
			return o.printer(cmd.OutOrStdout()).print(pods, func(w io.Writer) error {
				rows := make([][]string, 0, len(pods))
				for i := range pods {
					rows = append(rows, podRow(&pods[i]))
				}
				return writeTable(w, []string{"NAME", "READY", "STATUS", "RESTARTS", "AGE"}, rows)
			})
		},
	}

	var (
		opts   kube.LogOptions
		follow bool
	)
	logsCmd := &cobra.Command{
		Use:   "logs [pod]",
		Short: "Print the logs of a pod container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			if !follow {
				text, err := c.PodLogs(cmd.Context(), args[0], "", opts)
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			rc, err := c.StreamPodLogs(ctx, args[0], "", opts)
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()
			if _, err := io.Copy(cmd.OutOrStdout(), rc); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	logsCmd.Flags().StringVarP(&opts.Container, "container", "c", "", "Container name")
	logsCmd.Flags().Int64Var(&opts.TailLines, "tail", 0, "Lines of recent log to show (0 shows all)")
	logsCmd.Flags().BoolVarP(&opts.Previous, "previous", "p", false, "Logs of the previous container instance")
	logsCmd.Flags().BoolVar(&opts.Timestamps, "timestamps", false, "Prefix each line with its timestamp")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream the logs")

	cmd.AddCommand(listCmd, logsCmd)
	return cmd
}

func podRow(p *corev1.Pod) []string {
	ready, restarts := 0, int32(0)
	for _, cs := range p.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
		restarts += cs.RestartCount
	}
	status := string(p.Status.Phase)
	if p.DeletionTimestamp != nil {
		status = "Terminating"
	}
	for _, cs := range p.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			status = cs.State.Waiting.Reason
			break
		}
	}
	return []string{
		p.Name,
		fmt.Sprintf("%d/%d", ready, len(p.Spec.Containers)),
		orNone(status),
		strconv.Itoa(int(restarts)),
		age(p.CreationTimestamp),
	}
}

func newModelsCmd(o *rootOptions) *cobra.Command {
	var (
		ref    serviceFlags
		prompt string
		model  string
	)
	cmd := &cobra.Command{
		Use:   "models [modelapi]",
		Short: "List the models served by a ModelAPI, or test one with --prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			r := ref.ref(args[0])
			if prompt == "" {
				ids, err := c.ListModels(cmd.Context(), r)
				if err != nil {
					return err
				}
				return o.printer(cmd.OutOrStdout()).print(map[string][]string{"models": ids}, func(w io.Writer) error {
					rows := make([][]string, 0, len(ids))
					for _, id := range ids {
						rows = append(rows, []string{id})
					}
					return writeTable(w, []string{"MODEL"}, rows)
				})
			}
			if model == "" {
				ids, err := c.ListModels(cmd.Context(), r)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					return fmt.Errorf("modelapi %s serves no models; pass --model", args[0])
				}
				model = ids[0]
			}
			reply, err := c.ProbeCompletion(cmd.Context(), r, model, prompt)
			if err != nil {
				return err
			}
			return o.printer(cmd.OutOrStdout()).print(map[string]string{"model": model, "reply": reply}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, reply)
				return err
			})
		},
	}
	ref.register(cmd)
	cmd.Flags().StringVar(&prompt, "prompt", "", "Send a one-shot completion with this prompt")
	cmd.Flags().StringVar(&model, "model", "", "Model for --prompt (default: the first listed)")
	return cmd
}
