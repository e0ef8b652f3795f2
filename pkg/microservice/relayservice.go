package microservice

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/rs/zerolog"
)

var _ Service = (*RelayService)(nil)

// Runner is the part of relay.Relay the service drives.
type Runner interface {
	Run(ctx context.Context)
	LastSummary() *relay.RunSummary
}

// RelayService runs a relay repeatedly, pausing for interval between runs, and
// exposes /healthz, POST /run (trigger a run now) and GET /status (last summary).
type RelayService struct {
	*BaseServer
	runner   Runner
	interval time.Duration
	trigger  chan struct{}
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelayService creates the service. It does not start the loop.
func NewRelayService(cfg *BaseConfig, interval time.Duration, runner Runner, logger zerolog.Logger) *RelayService {
	logger = logger.With().Str("component", "RelayService").Str("service_name", cfg.ServiceName).Logger()
	s := &RelayService{
		BaseServer: NewBaseServer(logger, cfg.HTTPPort),
		runner:     runner,
		interval:   interval,
		trigger:    make(chan struct{}, 1),
		logger:     logger,
	}
	s.Mux().HandleFunc("/run", s.handleRun)
	s.Mux().HandleFunc("/status", s.handleStatus)
	return s
}

// Start starts the HTTP server and the relay loop. The loop stops when ctx is
// cancelled or Shutdown is called; a run already in progress is not interrupted.
func (s *RelayService) Start(ctx context.Context) error {
	if err := s.BaseServer.Start(); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
	return nil
}

// Done is closed when the relay loop has exited. It is nil before Start.
func (s *RelayService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *RelayService) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.logger.Info().Dur("interval", s.interval).Msg("Relay loop started.")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Relay loop stopped.")
			return
		case <-timer.C:
		case <-s.trigger:
			s.logger.Info().Msg("Relay run triggered over HTTP.")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		// A run always finishes; cancellation only stops the next one starting.
		s.runner.Run(context.WithoutCancel(ctx))
		timer.Reset(s.interval)
	}
}

// Shutdown stops the relay loop, waiting for a run in progress to finish or for
// ctx to expire, then stops the HTTP server.
func (s *RelayService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn().Msg("Timed out waiting for the relay loop to stop.")
		}
	}
	return s.BaseServer.Shutdown(ctx)
}

func (s *RelayService) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
		// A run is already pending.
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *RelayService) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary := s.runner.LastSummary()
	if summary == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write status response.")
	}
}
