package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/makeasinger/stemscore/internal/model"
	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned when no record exists for a job id.
var ErrJobNotFound = errors.New("job not found")

// recordTTL matches the default workspace retention.
const recordTTL = 24 * time.Hour

// JobStore keeps the status record of each job.
type JobStore interface {
	Save(ctx context.Context, record *model.JobRecord) error
	Get(ctx context.Context, jobID string) (*model.JobRecord, error)
}

// RedisJobStore stores records as JSON under job:<id>.
type RedisJobStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{redis: redisClient, ttl: recordTTL}
}

func (s *RedisJobStore) Save(ctx context.Context, record *model.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(record.ID), data, s.ttl).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.JobRecord, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var record model.JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// MemoryJobStore keeps records in process memory. It is used when Redis is
// unavailable and in tests.
type MemoryJobStore struct {
	mu      sync.RWMutex
	records map[string]model.JobRecord
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{records: make(map[string]model.JobRecord)}
}

func (s *MemoryJobStore) Save(_ context.Context, record *model.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = *record
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*model.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &record, nil
}
