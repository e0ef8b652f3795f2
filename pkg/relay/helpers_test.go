package relay_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/membus"
	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/stretchr/testify/require"
)

// recordingActivity captures activity lines for assertions.
type recordingActivity struct {
	mu    sync.Mutex
	lines []string
}

func (a *recordingActivity) Log(message string, _ int, _ int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, message)
}

func (a *recordingActivity) contains(substr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range a.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// recordingSender collects sent messages and fails on the configured ids.
type recordingSender struct {
	mu     sync.Mutex
	sent   []types.PublishMessage
	failOn map[string]bool
	closed bool
}

func (s *recordingSender) Send(_ context.Context, msg types.PublishMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[msg.ID] {
		return fmt.Errorf("send %s: %w", msg.ID, errSendFailed)
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSender) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.sent))
	for i, m := range s.sent {
		ids[i] = m.ID
	}
	return ids
}

var errSendFailed = errors.New("send failed")

// countingReceiver counts ReceiveBatch calls on the wrapped receiver.
type countingReceiver struct {
	relay.BatchReceiver
	calls int
}

func (c *countingReceiver) ReceiveBatch(ctx context.Context, maxCount int, wait time.Duration) ([]*types.ReceivedMessage, error) {
	c.calls++
	return c.BatchReceiver.ReceiveBatch(ctx, maxCount, wait)
}

// fillQueue creates path on ns and publishes count messages with ids <path>-<n>.
func fillQueue(t *testing.T, ns *membus.Namespace, path string, requiresSession bool, count int) {
	t.Helper()
	require.NoError(t, ns.CreateQueue(path, requiresSession))
	for i := 1; i <= count; i++ {
		_, err := ns.Publish(path, types.PublishMessage{
			ID:         fmt.Sprintf("%s-%d", path, i),
			Payload:    []byte(fmt.Sprintf("body %d", i)),
			Attributes: map[string]string{"n": fmt.Sprint(i)},
		})
		require.NoError(t, err)
	}
}

func ids(msgs []types.PublishMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
