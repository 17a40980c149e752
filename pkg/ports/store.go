package ports

import (
	"context"

	"github.com/aretw0/journey/pkg/domain"
)

// StateStore defines the interface for persisting execution state.
// The engine saves after every applied transition; implementations only need key-value semantics.
type StateStore interface {
	// Save persists the state for a given session ID.
	Save(ctx context.Context, sessionID string, state *domain.ExecutionState) error

	// Load retrieves the state for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.ExecutionState, error)

	// Delete removes the state for a given session ID.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}

// InterventionStore persists intervention requests.
type InterventionStore interface {
	// Create stores a new pending intervention.
	// Returns domain.ErrDuplicatePendingIntervention if one is already pending for the same session and node.
	Create(ctx context.Context, intervention *domain.Intervention) error

	// Update replaces a stored intervention. Returns domain.ErrNotFound if it does not exist.
	Update(ctx context.Context, intervention *domain.Intervention) error

	// Get returns an intervention by ID. Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (*domain.Intervention, error)

	// ListBySession returns the interventions of a session ordered by creation time.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Intervention, error)

	// ListPending returns every pending intervention, across sessions.
	ListPending(ctx context.Context) ([]*domain.Intervention, error)

	// DeleteSession removes all interventions of a session.
	DeleteSession(ctx context.Context, sessionID string) error
}
