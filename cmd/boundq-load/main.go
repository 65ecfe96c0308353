// Command boundq-load drives a boundq queue with synthetic producers and
// reports how backpressure and shutdown behaved.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "boundq-load",
		Short:        "Exercise a bounded work queue under synthetic load",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCommand())
	return root
}

func newRunCommand() *cobra.Command {
	opts := defaultLoadOptions()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run producers against one queue, stop it and print a summary",
		Long: `Run starts a queue, lets the configured producers add items while a
single worker processes them with an artificial delay, then stops the queue
in the selected mode and prints what happened to every item.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			summary, err := runLoad(cmd.Context(), opts, cmd.ErrOrStderr())
			if summary != nil {
				summary.Print(cmd.OutOrStdout())
			}
			return err
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}
