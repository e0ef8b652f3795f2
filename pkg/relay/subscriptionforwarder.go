package relay

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-busrelay/pkg/cache"
	"github.com/illmade-knight/go-busrelay/pkg/types"
)

// SubscriptionForwarder relays one topic subscription to the destination topic.
// A topic delivers each message to every subscription, so the forwarder consults
// the run's forwarded-id set: only the first subscription to see a message
// publishes it, the others complete their copy silently.
type SubscriptionForwarder struct {
	drainer *Drainer
}

// NewSubscriptionForwarder creates a SubscriptionForwarder using drainer.
func NewSubscriptionForwarder(drainer *Drainer) *SubscriptionForwarder {
	return &SubscriptionForwarder{drainer: drainer}
}

// ForwardSubscription drains src into the destination topic dst.
func (f *SubscriptionForwarder) ForwardSubscription(ctx context.Context, src Receiver, dst Sender, requiresSession bool, forwarded cache.IDSet) error {
	_, err := f.forward(ctx, src, dst, requiresSession, forwarded)
	return err
}

func (f *SubscriptionForwarder) forward(ctx context.Context, src Receiver, dst Sender, requiresSession bool, forwarded cache.IDSet) (DrainResult, error) {
	if forwarded == nil {
		return DrainResult{}, fmt.Errorf("subscription %s: forwarded-id set is required", src.Path())
	}
	hooks := &DedupHooks{
		ShouldForward: func(ctx context.Context, msg *types.ReceivedMessage) (bool, error) {
			seen, err := forwarded.Contains(ctx, msg.ID)
			return !seen, err
		},
		OnForwarded: forwarded.Add,
	}

	path := src.Path()
	var (
		result DrainResult
		err    error
	)
	if requiresSession {
		f.drainer.activity.Log(fmt.Sprintf("[%s] - Processing subscription requiring a session", path), 0, 0)
		result, err = f.drainer.DrainSessions(ctx, path, src, dst, hooks)
	} else {
		f.drainer.activity.Log(fmt.Sprintf("[%s] - Processing subscription", path), 0, 0)
		result, err = f.drainer.Drain(ctx, path, src, dst, hooks)
	}
	if err != nil {
		return result, err
	}
	f.drainer.activity.Log(fmt.Sprintf("[%s] - Completed processing subscription - %d message(s) forwarded", path, result.Forwarded), 0, 0)
	return result, nil
}
