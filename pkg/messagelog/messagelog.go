package messagelog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file defines the message-log capability: an optional record of every message
// the relay forwards. When message logging is disabled the relay uses Nop, so call
// sites never check for a missing logger.
// ====================================================================================

// Logger records forwarded messages.
type Logger interface {
	// LogMessage records msg as forwarded from entity. It must not block on slow sinks
	// for longer than a flush.
	LogMessage(ctx context.Context, entity string, msg *types.ReceivedMessage)
	// Close flushes anything buffered and releases the sink.
	Close(ctx context.Context) error
}

// Record is the archived form of one forwarded message.
type Record struct {
	Entity      string    `json:"entity" bigquery:"entity"`
	MessageID   string    `json:"messageId" bigquery:"message_id"`
	SessionID   string    `json:"sessionId,omitempty" bigquery:"session_id"`
	Body        string    `json:"body" bigquery:"body"`
	Attributes  string    `json:"attributes,omitempty" bigquery:"attributes"`
	PublishTime time.Time `json:"publishTime" bigquery:"publish_time"`
	ForwardedAt time.Time `json:"forwardedAt" bigquery:"forwarded_at"`
}

// NewRecord builds the archive record for msg. The body is flattened to one line.
func NewRecord(entity string, msg *types.ReceivedMessage, now time.Time) *Record {
	rec := &Record{
		Entity:      entity,
		MessageID:   msg.ID,
		SessionID:   msg.SessionID,
		Body:        SingleLine(msg.Payload),
		PublishTime: msg.PublishTime,
		ForwardedAt: now.UTC(),
	}
	if len(msg.Attributes) > 0 {
		if b, err := json.Marshal(msg.Attributes); err == nil {
			rec.Attributes = string(b)
		}
	}
	return rec
}

var lineBreaks = strings.NewReplacer("\r\n", "", "\r", "", "\n", "")

// SingleLine returns the payload as a string with all line breaks removed.
func SingleLine(payload []byte) string {
	return lineBreaks.Replace(string(payload))
}

// Nop discards every message.
type Nop struct{}

func (Nop) LogMessage(context.Context, string, *types.ReceivedMessage) {}
func (Nop) Close(context.Context) error                               { return nil }

// ZerologLogger writes one event per forwarded message, typically to the daily
// message log file.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger creates a message logger writing through logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger.With().Str("component", "MessageLog").Logger()}
}

// LogMessage writes the message's identity and single-line body.
func (l *ZerologLogger) LogMessage(_ context.Context, entity string, msg *types.ReceivedMessage) {
	event := l.logger.Info().Str("entity", entity).Str("msg_id", msg.ID)
	if msg.SessionID != "" {
		event = event.Str("session_id", msg.SessionID)
	}
	if len(msg.Attributes) > 0 {
		event = event.Interface("attributes", msg.Attributes)
	}
	event.Msg(SingleLine(msg.Payload))
}

// Close is a no-op; the underlying writer is owned by the caller.
func (l *ZerologLogger) Close(context.Context) error { return nil }

// Multi fans every message out to several loggers.
type Multi []Logger

// LogMessage forwards to every logger in order.
func (m Multi) LogMessage(ctx context.Context, entity string, msg *types.ReceivedMessage) {
	for _, l := range m {
		l.LogMessage(ctx, entity, msg)
	}
}

// Close closes every logger and joins their errors.
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, l := range m {
		if err := l.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
