package messagelog

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
)

// GCSArchiverConfig holds configuration for archiving the message log to GCS.
type GCSArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
	// BatchSize is the number of records written per object.
	BatchSize int
}

// GCSArchiver is a message Logger that writes forwarded messages as gzip-compressed
// JSON lines objects, one object per batch, under <prefix>/YYYY/MM/DD/.
type GCSArchiver struct {
	*bufferedLogger
	client GCSClient
	config GCSArchiverConfig
	logger zerolog.Logger
}

// NewGCSArchiver creates a message log archiver for Google Cloud Storage.
func NewGCSArchiver(gcsClient GCSClient, config GCSArchiverConfig, logger zerolog.Logger) (*GCSArchiver, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	a := &GCSArchiver{
		client: gcsClient,
		config: config,
		logger: logger.With().Str("component", "GCSArchiver").Str("bucket", config.BucketName).Logger(),
	}
	a.bufferedLogger = newBufferedLogger(config.BatchSize, a.upload, a.logger)
	return a, nil
}

// LogMessage buffers the message; a full batch is uploaded synchronously.
func (a *GCSArchiver) LogMessage(ctx context.Context, entity string, msg *types.ReceivedMessage) {
	a.bufferedLogger.LogMessage(ctx, entity, msg)
}

// Close uploads any buffered records.
func (a *GCSArchiver) Close(ctx context.Context) error {
	return a.bufferedLogger.Close(ctx)
}

// upload writes one batch of records to a new GCS object.
func (a *GCSArchiver) upload(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	day := records[0].ForwardedAt.Format("2006/01/02")
	objectName := path.Join(a.config.ObjectPrefix, day, fmt.Sprintf("%s.jsonl.gz", uuid.New().String()))
	a.logger.Info().Str("object_name", objectName).Int("record_count", len(records)).Msg("Starting message log upload.")

	gcsWriter := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx)
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, rec := range records {
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				_ = gz.Close()
				return
			}
		}
		err = gz.Close()
	}()

	bytesWritten, pipeReadErr := io.Copy(gcsWriter, pr)
	closeErr := gcsWriter.Close()

	if pipeReadErr != nil {
		return fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, pipeReadErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}

	a.logger.Info().
		Str("object_name", objectName).
		Int64("bytes_written", bytesWritten).
		Msg("Successfully uploaded message log batch to GCS.")
	return nil
}
