package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKeyPrefix is used when RedisConfig.KeyPrefix is empty.
const DefaultRedisKeyPrefix = "busrelay:forwarded"

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to the per-run key, e.g. "busrelay:forwarded".
	KeyPrefix string
	// SetTTL bounds how long a run's set survives if the relay dies before
	// Close deletes it.
	SetTTL time.Duration
}

// RedisIDSet is an IDSet stored as a single Redis set under a key unique to
// one relay run. It keeps a large run's ids out of process memory; it is not a
// dedup store shared between relay replicas, since every run gets its own key
// and the key is deleted when the run ends.
type RedisIDSet struct {
	redisClient *redis.Client
	key         string
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewRedisIDSet connects to Redis and returns a set stored under
// "<KeyPrefix>:<runID>". It pings the Redis server to ensure connectivity
// before returning.
func NewRedisIDSet(ctx context.Context, cfg *RedisConfig, runID string, logger zerolog.Logger) (*RedisIDSet, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	key := fmt.Sprintf("%s:%s", prefix, runID)
	logger.Info().Str("redis_address", cfg.Addr).Str("key", key).Msg("Successfully connected to Redis.")

	return &RedisIDSet{
		redisClient: rdb,
		key:         key,
		ttl:         cfg.SetTTL,
		logger:      logger.With().Str("component", "RedisIDSet").Str("key", key).Logger(),
	}, nil
}

// NewRedisIDSetFactory returns an IDSetFactory that creates one Redis-backed set per run.
func NewRedisIDSetFactory(cfg *RedisConfig, logger zerolog.Logger) IDSetFactory {
	return func(ctx context.Context, runID string) (IDSet, error) {
		return NewRedisIDSet(ctx, cfg, runID, logger)
	}
}

// Key returns the Redis key holding the set.
func (s *RedisIDSet) Key() string {
	return s.key
}

// Contains reports whether id is a member of the run's set.
func (s *RedisIDSet) Contains(ctx context.Context, id string) (bool, error) {
	ok, err := s.redisClient.SIsMember(ctx, s.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check membership in redis: %w", err)
	}
	return ok, nil
}

// Add inserts id and refreshes the key's TTL.
func (s *RedisIDSet) Add(ctx context.Context, id string) error {
	pipe := s.redisClient.TxPipeline()
	pipe.SAdd(ctx, s.key, id)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error().Err(err).Str("msg_id", id).Msg("Failed to add id to Redis set.")
		return fmt.Errorf("failed to add to redis set: %w", err)
	}
	s.logger.Debug().Str("msg_id", id).Msg("Recorded forwarded id.")
	return nil
}

// Close deletes the run's key and closes the Redis client connection.
func (s *RedisIDSet) Close() error {
	if s.redisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redisClient.Del(ctx, s.key).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to delete run key; it will expire with its TTL.")
	}
	s.logger.Info().Msg("Closing Redis client connection...")
	return s.redisClient.Close()
}
