package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command: one relay pass, then exit.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a single relay pass",
		Long: `Run one relay pass over all queues and topics and exit.

Example:
  relay run --config relay.yaml
  RELAY_SOURCE_PROJECT=old RELAY_DESTINATION_PROJECT=new relay run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, rootOpts)
		},
	}
}

func runOnce(ctx context.Context, opts *RootOptions) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	a.relay.Run(ctx)
	if summary := a.relay.LastSummary(); summary != nil && summary.Error != "" {
		a.logger.Warn().Str("run_id", summary.RunID).Msg("Relay run ended early; see the activity log.")
	}
	return nil
}
