package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/logging"
	"github.com/illmade-knight/go-busrelay/pkg/messagelog"
	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
)

// DedupHooks lets a caller suppress publication of some messages. Messages for
// which ShouldForward returns false are still completed at the source.
type DedupHooks struct {
	ShouldForward func(ctx context.Context, msg *types.ReceivedMessage) (bool, error)
	OnForwarded   func(ctx context.Context, id string) error
}

// DrainResult counts what one drain did.
type DrainResult struct {
	// Receives is the number of ReceiveBatch calls, including the final empty one.
	Receives  int
	Received  int
	Forwarded int
	// Sessions is the number of sessions drained; zero for plain entities.
	Sessions int
}

// Duplicates is the number of messages completed without being published.
func (r DrainResult) Duplicates() int {
	return r.Received - r.Forwarded
}

func (r *DrainResult) add(other DrainResult) {
	r.Receives += other.Receives
	r.Received += other.Received
	r.Forwarded += other.Forwarded
}

// Drainer moves every ready message from a source endpoint to a destination.
type Drainer struct {
	batchSize   int
	waitTimeout time.Duration
	activity    logging.ActivityLogger
	messages    messagelog.Logger
	logger      zerolog.Logger
}

// NewDrainer creates a Drainer. A nil message logger disables message logging.
func NewDrainer(batchSize int, waitTimeout time.Duration, activity logging.ActivityLogger, messages messagelog.Logger, logger zerolog.Logger) *Drainer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	if activity == nil {
		activity = logging.Nop{}
	}
	if messages == nil {
		messages = messagelog.Nop{}
	}
	return &Drainer{
		batchSize:   batchSize,
		waitTimeout: waitTimeout,
		activity:    activity,
		messages:    messages,
		logger:      logger.With().Str("component", "Drainer").Logger(),
	}
}

// Drain repeatedly receives up to batchSize messages from src and, in receipt
// order, publishes a copy to dst and completes the original. It stops at the
// first empty batch. A failed publish or complete aborts the drain; messages
// already completed stay completed.
func (d *Drainer) Drain(ctx context.Context, entity string, src BatchReceiver, dst Sender, hooks *DedupHooks) (DrainResult, error) {
	var result DrainResult
	for {
		batch, err := src.ReceiveBatch(ctx, d.batchSize, d.waitTimeout)
		result.Receives++
		if err != nil {
			return result, fmt.Errorf("receive from %s: %w", entity, err)
		}
		if len(batch) == 0 {
			more := ""
			if result.Received > 0 {
				more = "more "
			}
			d.activity.Log(fmt.Sprintf("No %smessages to process", more), 1, 0)
			return result, nil
		}

		d.activity.Log(fmt.Sprintf("Batch of %d message(s) received for processing", len(batch)), 1, 0)
		forwarded, err := d.forwardBatch(ctx, entity, batch, dst, hooks)
		result.Received += len(batch)
		result.Forwarded += forwarded
		if err != nil {
			return result, err
		}

		if hooks != nil {
			d.activity.Log(fmt.Sprintf("Processing complete: %d message(s) forwarded (%d duplicate(s) from other subscriptions)",
				forwarded, len(batch)-forwarded), 1, 0)
		} else {
			d.activity.Log(fmt.Sprintf("Processing complete: %d message(s) forwarded", forwarded), 1, 0)
		}
	}
}

func (d *Drainer) forwardBatch(ctx context.Context, entity string, batch []*types.ReceivedMessage, dst Sender, hooks *DedupHooks) (int, error) {
	forwarded := 0
	for _, msg := range batch {
		forward := true
		if hooks != nil && hooks.ShouldForward != nil {
			ok, err := hooks.ShouldForward(ctx, msg)
			if err != nil {
				return forwarded, fmt.Errorf("dedup check for message %s: %w", msg.ID, err)
			}
			forward = ok
		}

		if forward {
			d.messages.LogMessage(ctx, entity, msg)
			if err := dst.Send(ctx, msg.Clone()); err != nil {
				return forwarded, fmt.Errorf("send message %s from %s: %w", msg.ID, entity, err)
			}
			forwarded++
			if hooks != nil && hooks.OnForwarded != nil {
				if err := hooks.OnForwarded(ctx, msg.ID); err != nil {
					return forwarded, fmt.Errorf("record forwarded message %s: %w", msg.ID, err)
				}
			}
		} else {
			d.logger.Debug().Str("entity", entity).Str("msg_id", msg.ID).Msg("Skipping duplicate message.")
		}

		if err := msg.Complete(ctx); err != nil {
			return forwarded, fmt.Errorf("complete message %s on %s: %w", msg.ID, entity, err)
		}
	}
	return forwarded, nil
}

// DrainSessions drains a session-partitioned entity one session at a time. The
// active session ids are collected first by browsing; every browse handle is
// closed immediately because browsing does not lock the session. Each id is
// then accepted, drained and released. Sessions that appear after browsing are
// left for the next run.
func (d *Drainer) DrainSessions(ctx context.Context, entity string, src Receiver, dst Sender, hooks *DedupHooks) (DrainResult, error) {
	var result DrainResult

	browsed, err := src.BrowseSessions(ctx)
	if err != nil {
		return result, fmt.Errorf("browse sessions on %s: %w", entity, err)
	}
	if len(browsed) == 0 {
		d.activity.Log("No sessions exist - no messages to forward", 1, 0)
		return result, nil
	}

	sessionIDs := make([]string, 0, len(browsed))
	for _, handle := range browsed {
		sessionIDs = append(sessionIDs, handle.SessionID())
		if closeErr := handle.Close(); closeErr != nil {
			d.logger.Warn().Err(closeErr).Str("entity", entity).Str("session_id", handle.SessionID()).Msg("Failed to release browsed session.")
		}
	}

	for _, sessionID := range sessionIDs {
		d.activity.Log(fmt.Sprintf("[%s] - Processing session ID: %s", entity, sessionID), 0, 0)
		sessionResult, err := d.drainSession(ctx, entity, src, sessionID, dst, hooks)
		result.add(sessionResult)
		result.Sessions++
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (d *Drainer) drainSession(ctx context.Context, entity string, src Receiver, sessionID string, dst Sender, hooks *DedupHooks) (DrainResult, error) {
	session, err := src.AcceptSession(ctx, sessionID, d.waitTimeout)
	if err != nil {
		return DrainResult{}, fmt.Errorf("accept session %s on %s: %w", sessionID, entity, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			d.logger.Warn().Err(closeErr).Str("entity", entity).Str("session_id", sessionID).Msg("Failed to release session.")
		}
	}()
	return d.Drain(ctx, entity, session, dst, hooks)
}
