package ports

import (
	"context"

	"github.com/aretw0/journey/pkg/domain"
)

// GraphLoader defines how the engine retrieves workflow graphs.
// This allows the storage layer (Loam, YAML files, Memory) to be decoupled.
type GraphLoader interface {
	// LoadGraph returns the graph of a workflow.
	// Returns domain.ErrWorkflowNotFound if the workflow does not exist.
	LoadGraph(ctx context.Context, workflowID string) (*domain.Graph, error)

	// ListWorkflows returns the IDs of every workflow the loader can serve.
	ListWorkflows(ctx context.Context) ([]string, error)
}
