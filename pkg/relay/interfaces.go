package relay

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/types"
)

// ====================================================================================
// This file defines the contracts the relay consumes from a broker client. A
// Namespace is one side of the relay (source or destination); receivers, sessions
// and senders are the endpoints opened on it for a single entity.
// ====================================================================================

// ErrSessionsUnsupported is returned by brokers that cannot browse or lock sessions.
var ErrSessionsUnsupported = errors.New("broker does not support message sessions")

// Namespace discovers entities and opens endpoints on one broker namespace.
type Namespace interface {
	// Name identifies the namespace in logs.
	Name() string

	ListQueues(ctx context.Context) ([]types.EntityDescriptor, error)
	ListTopics(ctx context.Context) ([]types.EntityDescriptor, error)
	ListSubscriptions(ctx context.Context, topicPath string) ([]types.EntityDescriptor, error)

	OpenQueueReceiver(ctx context.Context, path string) (Receiver, error)
	OpenQueueSender(ctx context.Context, path string) (Sender, error)
	OpenTopicSender(ctx context.Context, path string) (Sender, error)
	OpenSubscriptionReceiver(ctx context.Context, topicPath, name string) (Receiver, error)
}

// BatchReceiver returns bounded batches of messages.
type BatchReceiver interface {
	// ReceiveBatch returns at most maxCount messages, waiting no longer than wait
	// for the first one. An empty batch with a nil error means no message was ready.
	ReceiveBatch(ctx context.Context, maxCount int, wait time.Duration) ([]*types.ReceivedMessage, error)
}

// Receiver is a receive endpoint for a queue or a subscription.
type Receiver interface {
	BatchReceiver

	// Path is the entity path used in logs.
	Path() string
	// BrowseSessions returns browse-only handles for the sessions that currently
	// hold messages. Browse handles do not grant exclusive access and must be
	// closed by the caller.
	BrowseSessions(ctx context.Context) ([]SessionHandle, error)
	// AcceptSession locks the session with the given id, waiting at most wait.
	AcceptSession(ctx context.Context, sessionID string, wait time.Duration) (Session, error)
	Close() error
}

// SessionHandle is a handle on one session's message stream.
type SessionHandle interface {
	SessionID() string
	Close() error
}

// Session is an exclusive lock on one session's message stream.
type Session interface {
	SessionHandle
	BatchReceiver
}

// Sender publishes copies of messages to a destination entity.
type Sender interface {
	Send(ctx context.Context, msg types.PublishMessage) error
	Close() error
}
