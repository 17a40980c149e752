// Package registry caches mapped journeys per workflow.
//
// A journey is mapped once and shared read-only by every session that uses it.
// When the source graph changes, the next Resolve remaps it under a higher
// mapping version; earlier versions stay available to the sessions bound to them.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/journey/internal/logging"
	"github.com/aretw0/journey/internal/mapper"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

// Registry manages the mapped journeys.
type Registry struct {
	loader ports.GraphLoader
	guards mapper.GuardChecker
	logger *slog.Logger

	mu       sync.RWMutex
	current  map[string]*domain.Journey
	versions map[string]map[int]*domain.Journey
	latest   map[string]int
}

// Option configures a Registry.
type Option func(*Registry)

// WithGuardChecker rejects graphs whose guards do not compile.
func WithGuardChecker(g mapper.GuardChecker) Option {
	return func(r *Registry) {
		r.guards = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry over loader.
func NewRegistry(loader ports.GraphLoader, opts ...Option) *Registry {
	r := &Registry{
		loader:   loader,
		logger:   logging.NewNop(),
		current:  make(map[string]*domain.Journey),
		versions: make(map[string]map[int]*domain.Journey),
		latest:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the journey of the workflow's current graph, remapping it when
// the graph fingerprint changed since the last call.
func (r *Registry) Resolve(ctx context.Context, workflowID string) (*domain.Journey, error) {
	g, err := r.loader.LoadGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if g.WorkflowID == "" {
		g.WorkflowID = workflowID
	}
	fingerprint := g.Fingerprint()

	r.mu.RLock()
	cached, ok := r.current[workflowID]
	r.mu.RUnlock()
	if ok && cached.Definition.Fingerprint == fingerprint {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have mapped the same graph while we waited.
	if cached, ok := r.current[workflowID]; ok && cached.Definition.Fingerprint == fingerprint {
		return cached, nil
	}

	opts := mapper.DefaultOptions()
	opts.Version = r.latest[workflowID] + 1
	opts.Guards = r.guards

	def, err := mapper.Map(g, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to map workflow %s: %w", workflowID, err)
	}

	j := &domain.Journey{Graph: g, Definition: def}
	r.current[workflowID] = j
	if r.versions[workflowID] == nil {
		r.versions[workflowID] = make(map[int]*domain.Journey)
	}
	r.versions[workflowID][def.MappingVersion] = j
	r.latest[workflowID] = def.MappingVersion

	r.logger.Info("journey mapped",
		"workflow_id", workflowID,
		"journey_id", def.JourneyID,
		"mapping_version", def.MappingVersion,
		"states", len(def.NodeStates),
		"transitions", len(def.EdgeTransitions),
	)
	return j, nil
}

// Version returns a previously mapped version of a workflow's journey.
func (r *Registry) Version(workflowID string, version int) (*domain.Journey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.versions[workflowID][version]
	return j, ok
}

// Invalidate drops the current journey of a workflow. The next Resolve remaps it
// under a new version even when the graph is unchanged.
func (r *Registry) Invalidate(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.current, workflowID)
}

// Workflows lists the workflows the loader can serve.
func (r *Registry) Workflows(ctx context.Context) ([]string, error) {
	return r.loader.ListWorkflows(ctx)
}
