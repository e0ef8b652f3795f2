package pubsubbus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// receiver pulls bounded batches with synchronous Pull requests.
type receiver struct {
	ns           *Namespace
	path         string
	subscription string
	logger       zerolog.Logger
}

func (r *receiver) Path() string { return r.path }

// ReceiveBatch issues one Pull whose deadline is wait, or PullTimeout when wait
// is not positive. A pull that hits its deadline without messages is an empty
// batch. A wait well below DefaultPullTimeout may end a drain while messages are
// still in flight from the server.
func (r *receiver) ReceiveBatch(ctx context.Context, maxCount int, wait time.Duration) ([]*types.ReceivedMessage, error) {
	timeout := wait
	if timeout <= 0 {
		timeout = r.ns.cfg.PullTimeout
	}
	pullCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.ns.subscriber.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: r.subscription,
		MaxMessages:  int32(maxCount),
	})
	if err != nil {
		if ctx.Err() == nil && isDeadline(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pull from %s: %w", r.subscription, err)
	}

	batch := make([]*types.ReceivedMessage, 0, len(resp.ReceivedMessages))
	for _, rm := range resp.ReceivedMessages {
		batch = append(batch, r.toReceived(rm))
	}
	r.logger.Debug().Int("batch_size", len(batch)).Msg("Pulled batch.")
	return batch, nil
}

func (r *receiver) toReceived(rm *pubsubpb.ReceivedMessage) *types.ReceivedMessage {
	m := rm.GetMessage()
	id := m.GetMessageId()
	attrs := maps.Clone(m.GetAttributes())
	if original, ok := attrs[SourceMessageIDAttribute]; ok {
		id = original
		delete(attrs, SourceMessageIDAttribute)
	}
	if len(attrs) == 0 {
		attrs = nil
	}

	ackID := rm.GetAckId()
	return &types.ReceivedMessage{
		PublishMessage: types.PublishMessage{
			ID:          id,
			SessionID:   m.GetOrderingKey(),
			Payload:     m.GetData(),
			Attributes:  attrs,
			PublishTime: m.GetPublishTime().AsTime(),
		},
		Complete: func(ctx context.Context) error {
			return r.ns.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
				Subscription: r.subscription,
				AckIds:       []string{ackID},
			})
		},
	}
}

func (r *receiver) BrowseSessions(context.Context) ([]relay.SessionHandle, error) {
	return nil, fmt.Errorf("browse sessions on %s: %w", r.path, relay.ErrSessionsUnsupported)
}

func (r *receiver) AcceptSession(_ context.Context, sessionID string, _ time.Duration) (relay.Session, error) {
	return nil, fmt.Errorf("accept session %s on %s: %w", sessionID, r.path, relay.ErrSessionsUnsupported)
}

// Close is a no-op: unacknowledged messages are redelivered when their ack
// deadline expires.
func (r *receiver) Close() error { return nil }

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded
}

// sender publishes one message at a time and waits for the server to confirm it.
type sender struct {
	topic   *pubsub.Topic
	timeout time.Duration
	logger  zerolog.Logger
}

func (s *sender) Send(ctx context.Context, msg types.PublishMessage) error {
	attrs := make(map[string]string, len(msg.Attributes)+1)
	maps.Copy(attrs, msg.Attributes)
	if msg.ID != "" {
		attrs[SourceMessageIDAttribute] = msg.ID
	}

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:        msg.Payload,
		Attributes:  attrs,
		OrderingKey: msg.SessionID,
	})

	getCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	serverID, err := result.Get(getCtx)
	if err != nil {
		if msg.SessionID != "" {
			s.topic.ResumePublish(msg.SessionID)
		}
		return fmt.Errorf("failed to publish message %s to %s: %w", msg.ID, s.topic.ID(), err)
	}
	s.logger.Debug().Str("msg_id", msg.ID).Str("server_id", serverID).Msg("Published message.")
	return nil
}

// Close flushes and stops the topic's publisher.
func (s *sender) Close() error {
	s.topic.Stop()
	return nil
}
