package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/billsync/internal/infrastructure/metrics"
)

// CheckpointStore implements usecase.CheckpointStore using Redis. Each
// account's key holds the fingerprint of the last snapshot written to the
// ledger.
type CheckpointStore struct {
	client  *redis.Client
	prefix  string
	metrics *metrics.Metrics
}

// NewCheckpointStore creates a new CheckpointStore. metrics may be nil.
func NewCheckpointStore(client *redis.Client, m *metrics.Metrics) *CheckpointStore {
	return &CheckpointStore{
		client:  client,
		prefix:  "checkpoint:",
		metrics: m,
	}
}

// Get returns the stored fingerprint for the account, or empty when none is
// stored.
func (s *CheckpointStore) Get(ctx context.Context, accountID string) (string, error) {
	s.observe("get")
	value, err := s.client.Get(ctx, s.prefix+accountID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		s.observeError("get")
		return "", err
	}
	return value, nil
}

// Set stores the account's fingerprint with the given TTL. A zero TTL keeps
// the key forever.
func (s *CheckpointStore) Set(ctx context.Context, accountID, fingerprint string, ttl time.Duration) error {
	s.observe("set")
	err := s.client.Set(ctx, s.prefix+accountID, fingerprint, ttl).Err()
	if err != nil {
		s.observeError("set")
	}
	return err
}

func (s *CheckpointStore) observe(operation string) {
	if s.metrics != nil {
		s.metrics.RedisOperations.WithLabelValues(operation).Inc()
	}
}

func (s *CheckpointStore) observeError(operation string) {
	if s.metrics != nil {
		s.metrics.RedisErrors.WithLabelValues(operation).Inc()
	}
}
