package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/journey/pkg/domain"
)

// Loader implements ports.GraphLoader using an in-memory map.
// Graphs are stored as JSON so callers never share mutable structure with the loader.
type Loader struct {
	mu     sync.RWMutex
	graphs map[string][]byte
}

// NewLoader creates a new Loader with the provided raw data (JSON documents keyed by workflow id).
func NewLoader(data map[string]string) *Loader {
	graphs := make(map[string][]byte, len(data))
	for k, v := range data {
		graphs[k] = []byte(v)
	}
	return &Loader{
		graphs: graphs,
	}
}

// NewFromGraphs creates a new Loader from domain objects.
func NewFromGraphs(graphs ...*domain.Graph) (*Loader, error) {
	l := &Loader{graphs: make(map[string][]byte, len(graphs))}
	for _, g := range graphs {
		if err := l.Put(g); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Put adds or replaces a workflow. Replacing a graph lets the registry pick up a new version.
func (l *Loader) Put(g *domain.Graph) error {
	if g == nil || g.WorkflowID == "" {
		return fmt.Errorf("graph missing workflow id")
	}
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal graph %s: %w", g.WorkflowID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.graphs[g.WorkflowID] = data
	return nil
}

// LoadGraph decodes the stored workflow.
func (l *Loader) LoadGraph(ctx context.Context, workflowID string) (*domain.Graph, error) {
	l.mu.RLock()
	content, ok := l.graphs[workflowID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
	}

	var g domain.Graph
	if err := json.Unmarshal(content, &g); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", workflowID, err)
	}
	if g.WorkflowID == "" {
		g.WorkflowID = workflowID
	}
	return &g, nil
}

// ListWorkflows returns all available workflow IDs.
func (l *Loader) ListWorkflows(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.graphs))
	for k := range l.graphs {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Deterministic order
	return keys, nil
}
