package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexsjones/kaos-console/internal/chat"
	"github.com/alexsjones/kaos-console/internal/kube"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newChatCmd(o *rootOptions) *cobra.Command {
	var (
		ref       serviceFlags
		sessionID string
		model     string
		quiet     bool
	)
	cmd := &cobra.Command{
		Use:   "chat [agent] [message...]",
		Short: "Send a message to an agent and stream its reply",
		Long: `Send a message to an agent and stream its reply.

The reply is written to stdout as it arrives. Reasoning steps and the session
id are written to stderr; pass the id back with --session to continue the
conversation. Ctrl-C stops the stream.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			sess := chat.NewSession(sessionID)
			err = sess.Send(ctx, c, ref.ref(args[0]), strings.Join(args[1:], " "), chat.Options{
				Model: model,
				Observer: kube.StreamHandler{
					OnChunk: func(content string) {
						fmt.Fprint(out, content)
					},
					OnProgress: func(p kube.Progress) {
						if quiet {
							return
						}
						fmt.Fprintln(errOut, progressStyle.Render(progressText(p)))
					},
				},
			})
			fmt.Fprintln(out)
			if id := sess.ID(); id != "" && !quiet {
				fmt.Fprintln(errOut, dimStyle.Render("session: "+id))
			}
			return err
		},
	}
	ref.register(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	cmd.Flags().StringVar(&model, "model", "", "Model name sent with the request (default: the agent name)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the reply")
	return cmd
}

func progressText(p kube.Progress) string {
	step := fmt.Sprintf("[%d", p.Step)
	if p.MaxSteps > 0 {
		step += fmt.Sprintf("/%d", p.MaxSteps)
	}
	step += "] " + p.Action
	if p.Target != "" {
		step += " " + p.Target
	}
	return step
}
