package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/microservice"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command: relay on an interval until stopped.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Relay repeatedly and serve /healthz, /run and /status",
		Long: `Run the relay in a loop, pausing for the configured interval between runs.
POST /run starts a run immediately; GET /status returns the last run summary.
The loop stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rootOpts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	svc := microservice.NewRelayService(&a.cfg.BaseConfig, a.cfg.Interval, a.relay, a.logger)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay service: %w", err)
	}
	a.activity.Log(fmt.Sprintf("Relay service started - running every %s", a.cfg.Interval), 0, 0)

	<-ctx.Done()
	a.logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}
