package relay

import (
	"context"
	"fmt"
)

// QueueForwarder relays one source queue to its destination queue. Queues have
// a single consumer, so no deduplication is applied.
type QueueForwarder struct {
	drainer *Drainer
}

// NewQueueForwarder creates a QueueForwarder using drainer.
func NewQueueForwarder(drainer *Drainer) *QueueForwarder {
	return &QueueForwarder{drainer: drainer}
}

// ForwardQueue drains src into dst, session by session when requiresSession is set.
func (f *QueueForwarder) ForwardQueue(ctx context.Context, src Receiver, dst Sender, requiresSession bool) error {
	_, err := f.forward(ctx, src, dst, requiresSession)
	return err
}

func (f *QueueForwarder) forward(ctx context.Context, src Receiver, dst Sender, requiresSession bool) (DrainResult, error) {
	path := src.Path()
	var (
		result DrainResult
		err    error
	)
	if requiresSession {
		f.drainer.activity.Log(fmt.Sprintf("[%s] - Processing queue requiring a session", path), 0, 1)
		result, err = f.drainer.DrainSessions(ctx, path, src, dst, nil)
	} else {
		f.drainer.activity.Log(fmt.Sprintf("[%s] - Processing queue", path), 0, 0)
		result, err = f.drainer.Drain(ctx, path, src, dst, nil)
	}
	if err != nil {
		return result, err
	}
	f.drainer.activity.Log(fmt.Sprintf("[%s] - Completed processing queue - %d message(s) forwarded", path, result.Forwarded), 0, 0)
	return result, nil
}
