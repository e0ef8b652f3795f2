package messagelog

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
)

// flushFunc persists one batch of records.
type flushFunc func(ctx context.Context, records []*Record) error

// bufferedLogger accumulates records and hands them to flush once batchSize is
// reached, and on Close.
type bufferedLogger struct {
	mu        sync.Mutex
	batch     []*Record
	batchSize int
	flush     flushFunc
	now       func() time.Time
	logger    zerolog.Logger
}

func newBufferedLogger(batchSize int, flush flushFunc, logger zerolog.Logger) *bufferedLogger {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &bufferedLogger{
		batch:     make([]*Record, 0, batchSize),
		batchSize: batchSize,
		flush:     flush,
		now:       time.Now,
		logger:    logger,
	}
}

func (b *bufferedLogger) LogMessage(ctx context.Context, entity string, msg *types.ReceivedMessage) {
	b.mu.Lock()
	b.batch = append(b.batch, NewRecord(entity, msg, b.now()))
	if len(b.batch) < b.batchSize {
		b.mu.Unlock()
		return
	}
	toFlush := b.batch
	b.batch = make([]*Record, 0, b.batchSize)
	b.mu.Unlock()

	// A failed flush loses only the message log, never the message itself.
	if err := b.flush(ctx, toFlush); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(toFlush)).Msg("Failed to flush message log batch.")
	}
}

func (b *bufferedLogger) Close(ctx context.Context) error {
	b.mu.Lock()
	toFlush := b.batch
	b.batch = nil
	b.mu.Unlock()

	if len(toFlush) == 0 {
		return nil
	}
	return b.flush(ctx, toFlush)
}
