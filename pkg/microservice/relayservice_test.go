package microservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/microservice"
	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner counts runs and returns a canned summary.
type fakeRunner struct {
	mu   sync.Mutex
	runs int
}

func (f *fakeRunner) Run(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *fakeRunner) LastSummary() *relay.RunSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == 0 {
		return nil
	}
	return &relay.RunSummary{RunID: fmt.Sprintf("run-%d", f.runs), MessagesForwarded: 7}
}

func startService(t *testing.T, interval time.Duration) (*microservice.RelayService, *fakeRunner, string) {
	t.Helper()
	runner := &fakeRunner{}
	cfg := &microservice.BaseConfig{HTTPPort: ":0", ServiceName: "relay-test"}
	svc := microservice.NewRelayService(cfg, interval, runner, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = svc.Shutdown(shutdownCtx)
	})
	return svc, runner, "http://localhost" + svc.GetHTTPPort()
}

func TestRelayService_RunsOnInterval(t *testing.T) {
	_, runner, _ := startService(t, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return runner.count() >= 3
	}, 2*time.Second, 10*time.Millisecond, "the loop should run immediately and then on every interval")
}

func TestRelayService_HTTPTriggerAndStatus(t *testing.T) {
	// Arrange
	_, runner, baseURL := startService(t, time.Hour)
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)

	// Act
	resp, err := http.Post(baseURL+"/run", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	// Assert
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return runner.count() == 2 }, time.Second, 10*time.Millisecond)

	resp, err = http.Get(baseURL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary relay.RunSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, "run-2", summary.RunID)
	assert.Equal(t, 7, summary.MessagesForwarded)
}

func TestRelayService_MethodsAndHealth(t *testing.T) {
	_, _, baseURL := startService(t, time.Hour)

	resp, err := http.Get(baseURL + "/run")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(baseURL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelayService_StopsWhenContextCancelled(t *testing.T) {
	runner := &fakeRunner{}
	cfg := &microservice.BaseConfig{HTTPPort: ":0"}
	svc := microservice.NewRelayService(cfg, 10*time.Millisecond, runner, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	cancel()

	select {
	case <-svc.Done():
	case <-time.After(time.Second):
		t.Fatal("relay loop did not stop after cancellation")
	}
	stopped := runner.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, runner.count())
}

// blockingRunner holds a run open until released and remembers whether the
// run's context was cancelled while it waited.
type blockingRunner struct {
	started  chan struct{}
	release  chan struct{}
	runErr   chan error
	startOne sync.Once
}

func (b *blockingRunner) Run(ctx context.Context) {
	b.startOne.Do(func() { close(b.started) })
	<-b.release
	b.runErr <- ctx.Err()
}

func (b *blockingRunner) LastSummary() *relay.RunSummary { return nil }

func TestRelayService_ShutdownLetsRunFinish(t *testing.T) {
	// Arrange
	runner := &blockingRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
		runErr:  make(chan error, 1),
	}
	cfg := &microservice.BaseConfig{HTTPPort: ":0", ServiceName: "relay-test"}
	svc := microservice.NewRelayService(cfg, time.Hour, runner, zerolog.Nop())
	require.NoError(t, svc.Start(context.Background()))

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not start")
	}

	// Act
	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- svc.Shutdown(ctx)
	}()

	// Assert
	select {
	case <-svc.Done():
		t.Fatal("loop exited while a run was still in progress")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	assert.NoError(t, <-runner.runErr, "the run must not see the shutdown")
	require.NoError(t, <-shutdownErr)
	select {
	case <-svc.Done():
	default:
		t.Fatal("loop still running after Shutdown returned")
	}
}
