package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/celestiaorg/wgvpn/internal/db/models"
)

// DefaultRedisPrefix is the key prefix used when none is configured
const DefaultRedisPrefix = "wgvpn"

// maxTxRetries bounds optimistic transaction retries under contention
const maxTxRetries = 50

var _ Store = (*RedisStore)(nil)

// RedisOptions configures the redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps jobs as JSON documents so several API instances can share them.
// Updates for one id are serialized with WATCH/MULTI on the job key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return c, nil
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) jobKey(operationID string) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, operationID)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":jobs"
}

// Insert adds a job with SETNX so a duplicate id is rejected atomically
func (s *RedisStore) Insert(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.jobKey(job.OperationID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, job.OperationID)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), job.OperationID).Err(); err != nil {
		return fmt.Errorf("failed to index job: %w", err)
	}
	return nil
}

// Get returns the job stored under the operation id
func (s *RedisStore) Get(ctx context.Context, operationID string) (*models.Job, error) {
	data, err := s.client.Get(ctx, s.jobKey(operationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(operationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(data)
}

// Update applies mutate inside an optimistic transaction on the job key
func (s *RedisStore) Update(ctx context.Context, operationID string, mutate Mutator) (*models.Job, error) {
	key := s.jobKey(operationID)
	var updated *models.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(operationID)
		}
		if err != nil {
			return err
		}
		current, err := decodeJob(data)
		if err != nil {
			return err
		}
		next, err := ApplyMutator(current, mutate)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err == nil {
			updated = next
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			time.Sleep(time.Duration(i+1) * time.Millisecond)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to update job %s: transaction retries exhausted", operationID)
}

// Cleanup removes terminal jobs older than maxAge whose machine is gone
func (s *RedisStore) Cleanup(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	cutoff := cleanupCutoff(maxAge, now)
	jobs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if !removable(job, cutoff) {
			continue
		}
		if err := s.client.Del(ctx, s.jobKey(job.OperationID)).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete job %s: %w", job.OperationID, err)
		}
		s.client.SRem(ctx, s.indexKey(), job.OperationID)
		removed++
	}
	return removed, nil
}

// ListByStatus returns jobs in any of the statuses, oldest first
func (s *RedisStore) ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	want := statusSet(statuses)
	jobs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	filtered := jobs[:0]
	for _, job := range jobs {
		if want[job.Status] {
			filtered = append(filtered, job)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})
	return filtered, nil
}

func (s *RedisStore) all(ctx context.Context) ([]*models.Job, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(data []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
