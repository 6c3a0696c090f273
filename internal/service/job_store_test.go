package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemscore/internal/model"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func exerciseJobStore(t *testing.T, store JobStore) {
	t.Helper()
	ctx := context.Background()
	id := uuid.New().String()

	if _, err := store.Get(ctx, id); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Get unknown = %v, want ErrJobNotFound", err)
	}

	record := &model.JobRecord{
		ID:         id,
		Status:     model.JobStatusRunning,
		Stage:      model.StageAnalyze,
		Progress:   30,
		SourceType: model.SourceUpload,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.JobStatusRunning || got.Stage != model.StageAnalyze || got.Progress != 30 {
		t.Errorf("unexpected record %+v", got)
	}
	if !got.CreatedAt.Equal(record.CreatedAt) {
		t.Errorf("createdAt = %s, want %s", got.CreatedAt, record.CreatedAt)
	}

	record.Status = model.JobStatusSucceeded
	record.Progress = 100
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, _ := store.Get(ctx, id); got == nil || got.Status != model.JobStatusSucceeded {
		t.Errorf("update not visible: %+v", got)
	}
}

func TestMemoryJobStore(t *testing.T) {
	exerciseJobStore(t, NewMemoryJobStore())
}

func TestRedisJobStore(t *testing.T) {
	client := testRedis(t)
	store := NewRedisJobStore(client)
	exerciseJobStore(t, store)
}
