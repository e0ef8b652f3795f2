package relay

import "time"

const (
	// DefaultBatchSize is the number of messages requested per receive call.
	DefaultBatchSize = 10
	// DefaultWaitTimeout bounds each receive and session-accept call.
	DefaultWaitTimeout = 200 * time.Millisecond
)

// Config holds the relay's per-run settings.
type Config struct {
	// IgnoreQueues, IgnoreTopics and IgnoreSubscriptions are comma-separated lists
	// of case-insensitive regular expressions. Blank entries are ignored.
	IgnoreQueues        string
	IgnoreTopics        string
	IgnoreSubscriptions string

	BatchSize   int
	WaitTimeout time.Duration
}

// NewConfigDefaults returns a Config that ignores nothing.
func NewConfigDefaults() *Config {
	return &Config{
		BatchSize:   DefaultBatchSize,
		WaitTimeout: DefaultWaitTimeout,
	}
}
