package ports

import (
	"context"

	"github.com/aretw0/journey/pkg/domain"
)

// SessionEngine is the surface used by driving adapters (HTTP, MCP, CLI).
type SessionEngine interface {
	// Workflows lists the workflow IDs the engine can serve.
	Workflows(ctx context.Context) ([]string, error)

	// Journey returns the current journey definition of a workflow.
	Journey(ctx context.Context, workflowID string) (*domain.JourneyDefinition, error)

	// StartSession binds a new session to a workflow and starts the run.
	StartSession(ctx context.Context, sessionID, workflowID string, initialContext map[string]any) (*domain.Reply, error)

	// HandleEvent applies an execution engine notification.
	HandleEvent(ctx context.Context, sessionID string, event domain.EngineEvent) (*domain.Reply, error)

	// HandleMessage resolves a user utterance and applies it.
	HandleMessage(ctx context.Context, sessionID, utterance string, history []domain.Message) (*domain.Reply, error)

	// RespondIntervention answers a pending intervention.
	RespondIntervention(ctx context.Context, interventionID string, response domain.InterventionResponse) (*domain.Reply, error)

	// Intervention returns one intervention by ID.
	Intervention(ctx context.Context, interventionID string) (*domain.Intervention, error)

	// Interventions lists the interventions of a session.
	Interventions(ctx context.Context, sessionID string) ([]*domain.Intervention, error)

	// Status returns the execution state of a session.
	Status(ctx context.Context, sessionID string) (*domain.ExecutionState, error)

	// Reply renders the current reply of a session without changing it.
	Reply(ctx context.Context, sessionID string) (*domain.Reply, error)

	// Stop stops a session. Stopping a stopped session is a no-op.
	Stop(ctx context.Context, sessionID string) (*domain.Reply, error)

	// Archive removes a session and its interventions.
	Archive(ctx context.Context, sessionID string) error

	// Sessions lists stored session IDs.
	Sessions(ctx context.Context) ([]string, error)
}
