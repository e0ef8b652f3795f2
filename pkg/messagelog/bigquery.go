package messagelog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// DataBatchInserter inserts a batch of records into a data store.
type DataBatchInserter interface {
	InsertBatch(ctx context.Context, items []*Record) error
	Close() error
}

// BigQueryDatasetConfig holds configuration for the message log table.
type BigQueryDatasetConfig struct {
	DatasetID string
	TableID   string
}

// NewProductionBigQueryClient creates a BigQuery client using Application Default
// Credentials unless a credentials file is provided.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", projectID).Msg("Failed to create BigQuery client.")
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQueryInserter streams message log records into a BigQuery table.
type BigQueryInserter struct {
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter connects to the configured table, creating it with a schema
// inferred from Record if it does not exist.
func NewBigQueryInserter(ctx context.Context, client *bigquery.Client, cfg *BigQueryDatasetConfig, logger zerolog.Logger) (*BigQueryInserter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}
	logger = logger.With().Str("component", "BigQueryInserter").Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
		schema, inferErr := bigquery.InferSchema(Record{})
		if inferErr != nil {
			return nil, fmt.Errorf("failed to infer schema for message log record: %w", inferErr)
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: schema}); createErr != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		logger.Info().Msg("BigQuery table created successfully.")
	}

	return &BigQueryInserter{
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// InsertBatch streams a batch of records to BigQuery.
func (i *BigQueryInserter) InsertBatch(ctx context.Context, items []*Record) error {
	if len(items) == 0 {
		return nil
	}
	if err := i.inserter.Put(ctx, items); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}
	i.logger.Debug().Int("batch_size", len(items)).Msg("Successfully inserted batch into BigQuery.")
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is managed by the caller.
func (i *BigQueryInserter) Close() error {
	return nil
}

// BigQueryAuditor is a message Logger that streams records to BigQuery in batches.
type BigQueryAuditor struct {
	*bufferedLogger
	inserter DataBatchInserter
}

// NewBigQueryAuditor creates a message logger that flushes batchSize records per insert.
func NewBigQueryAuditor(inserter DataBatchInserter, batchSize int, logger zerolog.Logger) (*BigQueryAuditor, error) {
	if inserter == nil {
		return nil, errors.New("inserter cannot be nil")
	}
	logger = logger.With().Str("component", "BigQueryAuditor").Logger()
	return &BigQueryAuditor{
		bufferedLogger: newBufferedLogger(batchSize, inserter.InsertBatch, logger),
		inserter:       inserter,
	}, nil
}

// LogMessage buffers the record, inserting a full batch synchronously.
func (a *BigQueryAuditor) LogMessage(ctx context.Context, entity string, msg *types.ReceivedMessage) {
	a.bufferedLogger.LogMessage(ctx, entity, msg)
}

// Close inserts any buffered records and closes the inserter.
func (a *BigQueryAuditor) Close(ctx context.Context) error {
	flushErr := a.bufferedLogger.Close(ctx)
	return errors.Join(flushErr, a.inserter.Close())
}
