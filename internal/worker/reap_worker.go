package worker

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/makeasinger/stemscore/internal/service"
	"github.com/makeasinger/stemscore/internal/workspace"
)

// ReapWorker removes expired job workspaces on a schedule
type ReapWorker struct {
	store     workspace.Store
	retention time.Duration
}

func NewReapWorker(store workspace.Store, retention time.Duration) *ReapWorker {
	return &ReapWorker{store: store, retention: retention}
}

// NewReapTask builds the periodic task registered with the scheduler.
func NewReapTask() *asynq.Task {
	return asynq.NewTask(service.TaskTypeReap, nil)
}

// ProcessTask handles workspace:reap tasks
func (w *ReapWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if w.retention <= 0 {
		return nil
	}

	res, err := w.store.Reap(ctx, w.retention)
	if err != nil {
		return err
	}
	if res.Skipped {
		log.Printf("Workspace reap skipped: another reaper holds the lock")
		return nil
	}
	log.Printf("Workspace reap removed %d jobs (%d errors)", len(res.Removed), len(res.Errors))
	return nil
}
