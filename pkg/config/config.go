// Package config loads the relay service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/cache"
	"github.com/illmade-knight/go-busrelay/pkg/messagelog"
	"github.com/illmade-knight/go-busrelay/pkg/microservice"
	"github.com/illmade-knight/go-busrelay/pkg/pubsubbus"
	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"gopkg.in/yaml.v3"
)

const (
	DefaultInterval         = 10 * time.Second
	DefaultLogDir           = "Logs"
	DefaultHTTPPort         = ":8080"
	DefaultRedisTTL         = time.Hour
	DefaultArchiveBatchSize = 500
)

// NamespaceConfig identifies one side of the relay.
type NamespaceConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// RelayConfig holds the per-run relay settings.
type RelayConfig struct {
	IgnoreQueues        string        `yaml:"ignore_queues"`
	IgnoreTopics        string        `yaml:"ignore_topics"`
	IgnoreSubscriptions string        `yaml:"ignore_subscriptions"`
	BatchSize           int           `yaml:"batch_size"`
	WaitTimeout         time.Duration `yaml:"wait_timeout"`
}

// RedisConfig moves each run's forwarded-id set into Redis when Addr is set.
// The set is still private to one run of one relay.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	SetTTL    time.Duration `yaml:"set_ttl"`
}

// ArchiveConfig enables the GCS message archive when Bucket is set.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"`
	ObjectPrefix string `yaml:"object_prefix"`
	BatchSize    int    `yaml:"batch_size"`
}

// AuditConfig enables the BigQuery message audit table when DatasetID is set.
type AuditConfig struct {
	ProjectID string `yaml:"project_id"`
	DatasetID string `yaml:"dataset_id"`
	TableID   string `yaml:"table_id"`
	BatchSize int    `yaml:"batch_size"`
}

// Config is the complete relay service configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Source      NamespaceConfig `yaml:"source"`
	Destination NamespaceConfig `yaml:"destination"`
	QueueLabel  string          `yaml:"queue_label"`

	Relay RelayConfig `yaml:"relay"`
	// Interval is the pause between runs of the service loop.
	Interval time.Duration `yaml:"interval"`

	LogDir      string `yaml:"log_dir"`
	LogMessages bool   `yaml:"log_messages"`

	Redis   RedisConfig   `yaml:"redis"`
	Archive ArchiveConfig `yaml:"archive"`
	Audit   AuditConfig   `yaml:"audit"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    DefaultHTTPPort,
			ServiceName: "busrelay",
		},
		QueueLabel: pubsubbus.DefaultQueueLabel,
		Relay: RelayConfig{
			BatchSize:   relay.DefaultBatchSize,
			WaitTimeout: pubsubbus.DefaultPullTimeout,
		},
		Interval: DefaultInterval,
		LogDir:   DefaultLogDir,
		Redis: RedisConfig{
			KeyPrefix: cache.DefaultRedisKeyPrefix,
			SetTTL:    DefaultRedisTTL,
		},
		Archive: ArchiveConfig{BatchSize: DefaultArchiveBatchSize},
		Audit:   AuditConfig{TableID: "forwarded_messages", BatchSize: DefaultArchiveBatchSize},
	}
}

// Load reads filename (when non-empty), applies environment overrides and
// validates the result. A missing file is an error.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from RELAY_* and REDIS_ADDR environment variables.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("RELAY_LOG_LEVEL", &c.LogLevel)
	setString("RELAY_HTTP_PORT", &c.HTTPPort)
	setString("RELAY_SOURCE_PROJECT", &c.Source.ProjectID)
	setString("RELAY_SOURCE_CREDENTIALS_FILE", &c.Source.CredentialsFile)
	setString("RELAY_DESTINATION_PROJECT", &c.Destination.ProjectID)
	setString("RELAY_DESTINATION_CREDENTIALS_FILE", &c.Destination.CredentialsFile)
	setString("RELAY_IGNORE_QUEUES", &c.Relay.IgnoreQueues)
	setString("RELAY_IGNORE_TOPICS", &c.Relay.IgnoreTopics)
	setString("RELAY_IGNORE_SUBSCRIPTIONS", &c.Relay.IgnoreSubscriptions)
	setString("RELAY_LOG_DIR", &c.LogDir)
	setString("REDIS_ADDR", &c.Redis.Addr)
	setString("RELAY_ARCHIVE_BUCKET", &c.Archive.Bucket)
	setString("RELAY_AUDIT_DATASET", &c.Audit.DatasetID)

	if v := os.Getenv("RELAY_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELAY_BATCH_SIZE: %w", err)
		}
		c.Relay.BatchSize = n
	}
	if v := os.Getenv("RELAY_WAIT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RELAY_WAIT_TIMEOUT: %w", err)
		}
		c.Relay.WaitTimeout = d
	}
	if v := os.Getenv("RELAY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RELAY_INTERVAL: %w", err)
		}
		c.Interval = d
	}
	if v := os.Getenv("RELAY_LOG_MESSAGES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RELAY_LOG_MESSAGES: %w", err)
		}
		c.LogMessages = b
	}
	return nil
}

// Validate checks the configuration for values the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Source.ProjectID == "" {
		errs = append(errs, errors.New("source.project_id cannot be empty"))
	}
	if c.Destination.ProjectID == "" {
		errs = append(errs, errors.New("destination.project_id cannot be empty"))
	}
	if c.Source.ProjectID != "" && c.Source.ProjectID == c.Destination.ProjectID {
		errs = append(errs, errors.New("source and destination must be different projects"))
	}
	if c.Relay.BatchSize < 1 {
		errs = append(errs, errors.New("relay.batch_size must be at least 1"))
	}
	if c.Relay.WaitTimeout <= 0 {
		errs = append(errs, errors.New("relay.wait_timeout must be positive"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	for name, patterns := range map[string]string{
		"relay.ignore_queues":        c.Relay.IgnoreQueues,
		"relay.ignore_topics":        c.Relay.IgnoreTopics,
		"relay.ignore_subscriptions": c.Relay.IgnoreSubscriptions,
	} {
		if _, err := relay.ParsePatterns(patterns); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Audit.DatasetID != "" && c.Audit.TableID == "" {
		errs = append(errs, errors.New("audit.table_id required when audit.dataset_id is set"))
	}
	return errors.Join(errs...)
}

// RelayOptions converts the relay section for relay.New.
func (c *Config) RelayOptions() *relay.Config {
	return &relay.Config{
		IgnoreQueues:        c.Relay.IgnoreQueues,
		IgnoreTopics:        c.Relay.IgnoreTopics,
		IgnoreSubscriptions: c.Relay.IgnoreSubscriptions,
		BatchSize:           c.Relay.BatchSize,
		WaitTimeout:         c.Relay.WaitTimeout,
	}
}

// SourcePubsub returns the Pub/Sub settings for the source project.
func (c *Config) SourcePubsub() *pubsubbus.Config {
	return c.pubsub(c.Source)
}

// DestinationPubsub returns the Pub/Sub settings for the destination project.
func (c *Config) DestinationPubsub() *pubsubbus.Config {
	return c.pubsub(c.Destination)
}

func (c *Config) pubsub(ns NamespaceConfig) *pubsubbus.Config {
	cfg := pubsubbus.NewConfigDefaults(ns.ProjectID)
	if ns.CredentialsFile != "" {
		cfg.CredentialsFile = ns.CredentialsFile
	}
	if c.QueueLabel != "" {
		cfg.QueueLabel = c.QueueLabel
	}
	return cfg
}

// RedisOptions returns the Redis settings, or nil when Redis is not configured.
func (c *Config) RedisOptions() *cache.RedisConfig {
	if c.Redis.Addr == "" {
		return nil
	}
	return &cache.RedisConfig{
		Addr:      c.Redis.Addr,
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		KeyPrefix: c.Redis.KeyPrefix,
		SetTTL:    c.Redis.SetTTL,
	}
}

// ArchiveOptions returns the GCS archive settings, or nil when disabled.
func (c *Config) ArchiveOptions() *messagelog.GCSArchiverConfig {
	if c.Archive.Bucket == "" {
		return nil
	}
	return &messagelog.GCSArchiverConfig{
		BucketName:   c.Archive.Bucket,
		ObjectPrefix: c.Archive.ObjectPrefix,
		BatchSize:    c.Archive.BatchSize,
	}
}

// AuditOptions returns the BigQuery table settings, or nil when disabled. An
// empty audit project falls back to the destination project.
func (c *Config) AuditOptions() (projectID string, cfg *messagelog.BigQueryDatasetConfig) {
	if c.Audit.DatasetID == "" {
		return "", nil
	}
	projectID = c.Audit.ProjectID
	if projectID == "" {
		projectID = c.Destination.ProjectID
	}
	return projectID, &messagelog.BigQueryDatasetConfig{DatasetID: c.Audit.DatasetID, TableID: c.Audit.TableID}
}
