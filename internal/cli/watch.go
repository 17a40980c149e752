package cli

import (
	"context"
	"log/slog"
)

// Invalidator drops cached journeys of a workflow.
type Invalidator interface {
	Invalidate(workflowID string)
}

// InvalidateOnChange drops the cached journey of every workflow reported on
// changes until ctx is done or changes is closed. Running sessions keep their
// version; new sessions pick up the changed graph.
func InvalidateOnChange(ctx context.Context, changes <-chan string, reg Invalidator, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case workflowID, ok := <-changes:
			if !ok {
				return
			}
			logger.Info("Change detected, reloading workflow", "workflow_id", workflowID)
			reg.Invalidate(workflowID)
		}
	}
}
