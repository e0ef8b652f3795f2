package types

import (
	"context"
	"maps"
	"time"
)

// EntityKind identifies the kind of messaging entity a descriptor refers to.
type EntityKind string

const (
	KindQueue        EntityKind = "queue"
	KindTopic        EntityKind = "topic"
	KindSubscription EntityKind = "subscription"
)

// EntityDescriptor is a read-only snapshot of one broker entity, taken when the
// entity is listed at the start of a run.
type EntityDescriptor struct {
	// Path is the entity path within its namespace. For subscriptions it is the
	// subscription name; ParentPath holds the owning topic.
	Path            string
	Kind            EntityKind
	RequiresSession bool
	ParentPath      string
}

// PublishMessage is a publishable copy of a message.
type PublishMessage struct {
	// ID is the identifier the message carried at the source broker.
	ID string
	// SessionID is the partition key for session-enabled entities. Empty when
	// the source entity is not session-partitioned.
	SessionID string
	// Payload is the raw byte content of the message.
	Payload []byte
	// Attributes holds the custom metadata set by the producer.
	Attributes map[string]string
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
}

// ReceivedMessage is a message held by the source broker. The relay only reads it,
// copies it with Clone and acknowledges it with Complete.
type ReceivedMessage struct {
	PublishMessage

	// Complete removes the message from the source entity.
	Complete func(ctx context.Context) error
}

// Clone returns a deep copy of the message that is safe to publish to another
// namespace. Body, session id and custom metadata are preserved.
func (m *ReceivedMessage) Clone() PublishMessage {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)

	var attrs map[string]string
	if m.Attributes != nil {
		attrs = maps.Clone(m.Attributes)
	}
	return PublishMessage{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Payload:     payload,
		Attributes:  attrs,
		PublishTime: m.PublishTime,
	}
}
