package cache

import "context"

// IDSet is a set of message identifiers. The relay uses one per run to record
// which topic messages have already been published to the destination.
type IDSet interface {
	// Contains reports whether id has been added to the set.
	Contains(ctx context.Context, id string) (bool, error)
	// Add inserts id into the set. Adding an id that is already present is a no-op.
	Add(ctx context.Context, id string) error
	// Close releases the set. A closed set must not be used again.
	Close() error
}

// IDSetFactory creates a fresh, empty IDSet. It is called once at the start of
// every relay run; runID is unique per run.
type IDSetFactory func(ctx context.Context, runID string) (IDSet, error)
