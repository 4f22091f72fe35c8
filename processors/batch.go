package processors

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// BatchJob is one recording submitted to ProcessBatch.
type BatchJob struct {
	MeetingID string
	AudioRef  string
	Metadata  map[string]any
}

// BatchResult summarizes a finished batch.
type BatchResult struct {
	States    []core.PipelineState
	Completed int
	Failed    int
}

// ProcessBatch runs several meetings with at most concurrency runs in flight.
// States come back in job order; a failed run never stops the others.
func (e *WorkflowEngine) ProcessBatch(ctx context.Context, jobs []BatchJob, concurrency int) BatchResult {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	states := make([]core.PipelineState, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			states[i] = e.Process(gctx, job.MeetingID, job.AudioRef, job.Metadata)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{States: states}
	for _, s := range states {
		if s.HasError() {
			res.Failed++
		} else {
			res.Completed++
		}
	}
	logger.Info(ctx, "batch finished", "jobs", len(jobs), "completed", res.Completed, "failed", res.Failed)
	return res
}
