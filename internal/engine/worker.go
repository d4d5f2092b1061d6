package engine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/flowmill/flowmill/pkg/flowmill/definition"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"
)

// Job pairs a claimed execution with its compiled definition.
type Job struct {
	Execution  *domain.Execution
	Definition *definition.Definition
}

// Worker processes executions from the queue until the context is cancelled.
func Worker(ctx context.Context, id int, eng *Engine, queue <-chan Job) {
	workerID := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping due to context cancel", "worker_id", id)
			return
		case job := <-queue:
			slog.InfoContext(ctx, "Worker starting execution", "worker_id", id, "execution_id", job.Execution.ID)
			eng.Run(ctx, job.Execution, job.Definition, workerID)
			slog.InfoContext(ctx, "Worker finished execution", "worker_id", id, "execution_id", job.Execution.ID)
		}
	}
}
