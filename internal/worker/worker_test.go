package worker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/makeasinger/stemscore/internal/acquire"
	"github.com/makeasinger/stemscore/internal/analyzer"
	"github.com/makeasinger/stemscore/internal/results"
	"github.com/makeasinger/stemscore/internal/service"
	"github.com/makeasinger/stemscore/internal/workspace"
)

func newPipeline(t *testing.T, store *workspace.FSStore) *service.Pipeline {
	t.Helper()
	script := filepath.Join(t.TempDir(), "worker.sh")
	body := "#!/bin/sh\necho midi > \"$4/piano.mid\"\necho '{\"tracks\":[{\"id\":\"p\",\"label\":\"Piano\",\"midi\":\"piano.mid\"}]}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}
	return service.NewPipeline(service.PipelineConfig{
		Workspaces: store,
		Acquirer:   acquire.New(nil, acquire.Options{}),
		Invoker:    analyzer.NewCommand("/bin/sh", []string{script}, "", nil),
		Projector:  results.NewProjector(""),
		Timeout:    time.Minute,
	})
}

func TestAnalysisWorkerRunsQueuedUpload(t *testing.T) {
	store, err := workspace.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	p := newPipeline(t, store)
	job, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.WriteFile(filepath.Join(job.InputDir, "a.wav"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	task := asynq.NewTask(service.TaskTypeAnalysis, []byte(`{"jobId":"`+job.ID+`","sourceType":"upload","inputFile":"a.wav"}`))
	if err := NewAnalysisWorker(p).ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if _, err := os.Stat(filepath.Join(job.OutputDir, "results.zip")); err != nil {
		t.Errorf("archive missing: %v", err)
	}
	record, err := p.Status(context.Background(), job.ID)
	if err != nil || record.Result == nil || len(record.Result.Tracks) != 1 {
		t.Errorf("unexpected record %+v, err = %v", record, err)
	}
}

func TestAnalysisWorkerFailuresAreNotRetried(t *testing.T) {
	store, err := workspace.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	w := NewAnalysisWorker(newPipeline(t, store))

	for name, payload := range map[string]string{
		"malformed":   `{`,
		"unknown job": `{"jobId":"not-a-uuid","sourceType":"upload","inputFile":"a.wav"}`,
	} {
		err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeAnalysis, []byte(payload)))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Errorf("%s: expected SkipRetry, got %v", name, err)
		}
	}
}

func TestReapWorkerRemovesExpiredWorkspaces(t *testing.T) {
	store, err := workspace.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	old, _ := store.Create(context.Background())
	fresh, _ := store.Create(context.Background())
	ageTree(t, old.Root, 48*time.Hour)

	if err := NewReapWorker(store, 24*time.Hour).ProcessTask(context.Background(), NewReapTask()); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if _, err := os.Stat(old.Root); !os.IsNotExist(err) {
		t.Errorf("expired workspace still present: %v", err)
	}
	if _, err := os.Stat(fresh.Root); err != nil {
		t.Errorf("fresh workspace removed: %v", err)
	}
}

// ageTree backdates every entry under root.
func ageTree(t *testing.T, root string, age time.Duration) {
	t.Helper()
	past := time.Now().Add(-age)
	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, past, past)
	})
	if err != nil {
		t.Fatalf("age %s: %v", root, err)
	}
}
