package pubsubbus

import (
	"os"
	"time"
)

const (
	// DefaultQueueLabel is the topic label that marks a topic as a queue.
	DefaultQueueLabel = "relay-kind"
	// QueueLabelValue is the value of the queue label on queue topics.
	QueueLabelValue = "queue"
	// SourceMessageIDAttribute carries the id a message had at its origin, so a
	// message relayed more than once keeps a stable identity.
	SourceMessageIDAttribute = "relay-source-message-id"
	// DefaultPullTimeout is a pull deadline that comfortably covers a Pub/Sub
	// round trip. Relays reading from Pub/Sub should wait at least this long.
	DefaultPullTimeout = time.Second
)

// Config holds the settings for one Pub/Sub namespace.
type Config struct {
	ProjectID       string
	CredentialsFile string // Optional
	// QueueLabel is the label key marking queue topics. A queue topic is paired
	// with the subscription of the same id.
	QueueLabel string
	// PullTimeout is the pull deadline used when a caller asks for no wait.
	PullTimeout time.Duration
	// PublishTimeout bounds the wait for a publish to be confirmed.
	PublishTimeout time.Duration
}

// NewConfigDefaults returns a Config for projectID. PUBSUB_CREDENTIALS_FILE, when
// set, overrides the credentials file.
func NewConfigDefaults(projectID string) *Config {
	cfg := &Config{
		ProjectID:      projectID,
		QueueLabel:     DefaultQueueLabel,
		PullTimeout:    DefaultPullTimeout,
		PublishTimeout: 20 * time.Second,
	}
	if creds := os.Getenv("PUBSUB_CREDENTIALS_FILE"); creds != "" {
		cfg.CredentialsFile = creds
	}
	return cfg
}
