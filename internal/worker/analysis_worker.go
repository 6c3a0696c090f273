package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/makeasinger/stemscore/internal/service"
)

// AnalysisWorker runs queued jobs through the pipeline
type AnalysisWorker struct {
	pipeline *service.Pipeline
}

func NewAnalysisWorker(p *service.Pipeline) *AnalysisWorker {
	return &AnalysisWorker{pipeline: p}
}

// ProcessTask handles analysis:process tasks. Failures are recorded on the
// job by the pipeline and never retried.
func (w *AnalysisWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.AnalysisPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Starting analysis job: %s", payload.JobID)
	if _, err := w.pipeline.Run(ctx, &payload); err != nil {
		return fmt.Errorf("analysis job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	return nil
}
