package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/makeasinger/stemscore/internal/acquire"
	"github.com/makeasinger/stemscore/internal/analyzer"
	"github.com/makeasinger/stemscore/internal/archive"
	"github.com/makeasinger/stemscore/internal/model"
	"github.com/makeasinger/stemscore/internal/results"
	"github.com/makeasinger/stemscore/internal/workspace"
)

const (
	TaskTypeAnalysis = "analysis:process"
	TaskTypeReap     = "workspace:reap"

	QueueAnalysis    = "analysis"
	QueueMaintenance = "maintenance"
)

// mirrorURLExpiry is how long a presigned archive link stays valid.
const mirrorURLExpiry = 24 * time.Hour

// ErrInvalidSource is returned when a submission does not carry exactly one
// usable source variant.
var ErrInvalidSource = errors.New("invalid source")

// Notifier receives job lifecycle events. websocket.Hub implements it.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, stage string)
	BroadcastComplete(jobID string, result *model.ProcessResponse)
	BroadcastError(jobID string, code, message string)
}

// ArchiveMirror copies finished archives to object storage.
type ArchiveMirror interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Enqueuer is the part of asynq.Client the pipeline needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AnalysisPayload is the asynq task body for a queued job.
type AnalysisPayload struct {
	JobID      string           `json:"jobId"`
	SourceType model.SourceType `json:"sourceType"`
	URL        string           `json:"url,omitempty"`
	InputFile  string           `json:"inputFile,omitempty"`
}

// PipelineConfig wires the pipeline's collaborators. Jobs, Notifier, Mirror
// and Queue are optional.
type PipelineConfig struct {
	Workspaces workspace.Store
	Acquirer   *acquire.Acquirer
	Invoker    analyzer.Invoker
	Projector  *results.Projector
	Jobs       JobStore
	Notifier   Notifier
	Mirror     ArchiveMirror
	Queue      Enqueuer
	Timeout    time.Duration
}

// Pipeline runs a job through workspace creation, input acquisition, worker
// invocation, projection and archiving. Steps are sequential and the first
// failure aborts the rest.
type Pipeline struct {
	workspaces workspace.Store
	acquirer   *acquire.Acquirer
	invoker    analyzer.Invoker
	projector  *results.Projector
	jobs       JobStore
	notifier   Notifier
	mirror     ArchiveMirror
	queue      Enqueuer
	timeout    time.Duration
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	jobs := cfg.Jobs
	if jobs == nil {
		jobs = NewMemoryJobStore()
	}
	return &Pipeline{
		workspaces: cfg.Workspaces,
		acquirer:   cfg.Acquirer,
		invoker:    cfg.Invoker,
		projector:  cfg.Projector,
		jobs:       jobs,
		notifier:   cfg.Notifier,
		mirror:     cfg.Mirror,
		queue:      cfg.Queue,
		timeout:    cfg.Timeout,
	}
}

// Process runs a submission to completion and returns the public response.
func (p *Pipeline) Process(ctx context.Context, src model.Source) (*model.ProcessResponse, error) {
	if err := p.validateSource(src); err != nil {
		return nil, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	job, err := p.workspaces.Create(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("Starting job %s (%s)", job.ID, src.Type)

	t := p.newTracker(job.ID, src.Type)
	t.start(ctx)

	t.stage(ctx, model.StageAcquire, 15)
	inputPath, err := p.acquireSource(ctx, job, src)
	if err != nil {
		t.fail(ctx, err)
		return nil, err
	}

	resp, err := p.analyze(ctx, t, job, inputPath)
	if err != nil {
		t.fail(ctx, err)
		return nil, err
	}
	t.complete(ctx, resp)
	return resp, nil
}

// Submit creates the workspace, persists an uploaded payload while the
// request body is still available, and queues the rest of the pipeline.
func (p *Pipeline) Submit(ctx context.Context, src model.Source) (*model.JobAcceptedResponse, error) {
	if p.queue == nil {
		return nil, errors.New("job queue is not configured")
	}
	if err := p.validateSource(src); err != nil {
		return nil, err
	}

	job, err := p.workspaces.Create(ctx)
	if err != nil {
		return nil, err
	}

	payload := AnalysisPayload{JobID: job.ID, SourceType: src.Type}
	switch src.Type {
	case model.SourceUpload:
		inputPath, err := p.acquirer.Upload(ctx, src.Upload, src.Filename, job.InputDir)
		if err != nil {
			return nil, err
		}
		payload.InputFile = filepath.Base(inputPath)
	case model.SourceYouTube:
		payload.URL = src.URL
	}

	t := p.newTracker(job.ID, src.Type)
	if err := p.jobs.Save(ctx, &t.record); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newAnalysisTask(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	_, err = p.queue.Enqueue(task,
		asynq.Queue(QueueAnalysis),
		asynq.MaxRetry(0),
		asynq.Timeout(p.timeout),
		asynq.Retention(recordTTL),
	)
	if err != nil {
		t.fail(ctx, err)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobAcceptedResponse{
		JobID:     job.ID,
		Status:    model.JobStatusQueued,
		CreatedAt: t.record.CreatedAt,
	}, nil
}

// Run executes a queued job. It is called by the asynq worker.
func (p *Pipeline) Run(ctx context.Context, payload *AnalysisPayload) (*model.ProcessResponse, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	job, err := p.workspaces.Locate(payload.JobID)
	if err != nil {
		return nil, err
	}

	t := p.newTracker(job.ID, payload.SourceType)
	if existing, err := p.jobs.Get(ctx, job.ID); err == nil {
		t.record.CreatedAt = existing.CreatedAt
	}
	t.start(ctx)

	var inputPath string
	switch payload.SourceType {
	case model.SourceUpload:
		if payload.InputFile == "" || payload.InputFile != filepath.Base(payload.InputFile) {
			err = ErrInvalidSource
			break
		}
		inputPath = filepath.Join(job.InputDir, payload.InputFile)
		if _, statErr := os.Stat(inputPath); statErr != nil {
			err = &acquire.WriteError{Path: inputPath, Err: statErr}
		}
	case model.SourceYouTube:
		t.stage(ctx, model.StageAcquire, 15)
		inputPath, err = p.acquirer.Remote(ctx, payload.URL, job.InputDir)
	default:
		err = ErrInvalidSource
	}
	if err != nil {
		t.fail(ctx, err)
		return nil, err
	}

	resp, err := p.analyze(ctx, t, job, inputPath)
	if err != nil {
		t.fail(ctx, err)
		return nil, err
	}
	t.complete(ctx, resp)
	return resp, nil
}

// Status returns the stored record of a job.
func (p *Pipeline) Status(ctx context.Context, jobID string) (*model.JobRecord, error) {
	if !workspace.ValidJobID(jobID) {
		return nil, ErrJobNotFound
	}
	return p.jobs.Get(ctx, jobID)
}

func (p *Pipeline) analyze(ctx context.Context, t *tracker, job *model.Job, inputPath string) (*model.ProcessResponse, error) {
	t.stage(ctx, model.StageAnalyze, 30)
	result, err := p.invoker.Invoke(ctx, inputPath, job.OutputDir, job.ID)
	if err != nil {
		return nil, err
	}

	t.stage(ctx, model.StageProject, 80)
	resp := &model.ProcessResponse{
		JobID:   job.ID,
		Tracks:  p.projector.Project(job.ID, result),
		Archive: p.projector.ArchiveURL(job.ID),
	}

	t.stage(ctx, model.StageArchive, 90)
	archivePath, err := archive.Build(ctx, job.OutputDir)
	if err != nil {
		return nil, err
	}

	if p.mirror != nil {
		t.stage(ctx, model.StageMirror, 95)
		if url, err := p.mirrorArchive(ctx, job.ID, archivePath); err != nil {
			log.Printf("Archive mirror failed for job %s: %v", job.ID, err)
		} else {
			resp.ArchiveMirror = &url
		}
	}

	return resp, nil
}

func (p *Pipeline) acquireSource(ctx context.Context, job *model.Job, src model.Source) (string, error) {
	if src.Type == model.SourceYouTube {
		return p.acquirer.Remote(ctx, src.URL, job.InputDir)
	}
	return p.acquirer.Upload(ctx, src.Upload, src.Filename, job.InputDir)
}

func (p *Pipeline) mirrorArchive(ctx context.Context, jobID, archivePath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := fmt.Sprintf("archives/%s/%s", jobID, archive.Name)
	if _, err := p.mirror.Upload(ctx, key, f, "application/zip"); err != nil {
		return "", err
	}
	return p.mirror.GetSignedURL(ctx, key, mirrorURLExpiry)
}

func (p *Pipeline) validateSource(src model.Source) error {
	switch src.Type {
	case model.SourceUpload:
		if src.Upload == nil {
			return fmt.Errorf("%w: upload requires a file", ErrInvalidSource)
		}
		if src.URL != "" {
			return fmt.Errorf("%w: upload must not carry a url", ErrInvalidSource)
		}
	case model.SourceYouTube:
		if src.URL == "" {
			return fmt.Errorf("%w: youtube requires a url", ErrInvalidSource)
		}
		if src.Upload != nil {
			return fmt.Errorf("%w: youtube must not carry a file", ErrInvalidSource)
		}
		if err := p.acquirer.ValidateURL(src.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown source type %q", ErrInvalidSource, src.Type)
	}
	return nil
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func newAnalysisTask(payload *AnalysisPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAnalysis, data), nil
}

// tracker keeps a job's record current and mirrors every change to the
// notifier. Record writes are best effort and never fail the job.
type tracker struct {
	p      *Pipeline
	record model.JobRecord
}

func (p *Pipeline) newTracker(jobID string, sourceType model.SourceType) *tracker {
	return &tracker{
		p: p,
		record: model.JobRecord{
			ID:         jobID,
			Status:     model.JobStatusQueued,
			SourceType: sourceType,
			CreatedAt:  time.Now().UTC(),
		},
	}
}

func (t *tracker) start(ctx context.Context) {
	now := time.Now().UTC()
	t.record.Status = model.JobStatusRunning
	t.record.StartedAt = &now
	t.stage(ctx, model.StageWorkspace, 5)
}

func (t *tracker) stage(ctx context.Context, stage string, progress int) {
	t.record.Stage = stage
	t.record.Progress = progress
	t.save(ctx)
	if t.p.notifier != nil {
		t.p.notifier.BroadcastProgress(t.record.ID, progress, t.record.Status, stage)
	}
}

func (t *tracker) complete(ctx context.Context, resp *model.ProcessResponse) {
	now := time.Now().UTC()
	t.record.Status = model.JobStatusSucceeded
	t.record.Stage = model.StageDone
	t.record.Progress = 100
	t.record.Result = resp
	t.record.CompletedAt = &now
	t.save(ctx)
	if t.p.notifier != nil {
		t.p.notifier.BroadcastComplete(t.record.ID, resp)
	}
	log.Printf("Job %s completed with %d tracks", t.record.ID, len(resp.Tracks))
}

func (t *tracker) fail(ctx context.Context, err error) {
	now := time.Now().UTC()
	msg := err.Error()
	t.record.Status = model.JobStatusFailed
	t.record.Error = &msg
	t.record.CompletedAt = &now
	t.save(ctx)
	if t.p.notifier != nil {
		t.p.notifier.BroadcastError(t.record.ID, "JOB_FAILED", msg)
	}
	log.Printf("Job %s failed at %s: %v", t.record.ID, t.record.Stage, err)
}

func (t *tracker) save(ctx context.Context) {
	// The job context may already be done when recording a failure.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := t.p.jobs.Save(saveCtx, &t.record); err != nil {
		log.Printf("Failed to save record for job %s: %v", t.record.ID, err)
	}
}
