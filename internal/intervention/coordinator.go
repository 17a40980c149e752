// Package intervention manages the human intervention requests opened by gated nodes:
// creation, responses, withdrawal and deadline expiry.
//
// The coordinator never mutates execution state itself. Responses and expiries are
// handed to an Applier inside the session's serialization point, so a late human
// answer can never race an expiry for the same session.
package intervention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/journey/internal/logging"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/google/uuid"
)

// DefaultTimeout is the deadline applied when neither the node nor the caller sets one.
const DefaultTimeout = 24 * time.Hour

// Applier feeds intervention outcomes into the session's tracker.
// Both methods are called with the session's serialization already held.
// A nil state with an error means the outcome was rejected and nothing changed.
//
// ApplyInterventionResponse calls settle once the tracker accepted the response and
// the new state is saved, before the transition opens any new request, so a gate
// re-entered by the same transition does not collide with the answered one.
type Applier interface {
	ApplyInterventionResponse(ctx context.Context, iv *domain.Intervention, resp domain.InterventionResponse, settle func(context.Context) error) (*domain.ExecutionState, error)
	ApplyInterventionExpiry(ctx context.Context, iv *domain.Intervention) (*domain.ExecutionState, error)
}

// Serializer runs fn while holding the session's serialization point.
type Serializer interface {
	Do(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error
}

// Request describes a new intervention.
type Request struct {
	// ID is optional; the tracker normally assigns it.
	ID         string
	SessionID  string
	WorkflowID string
	NodeID     string
	Type       domain.InterventionType
	Prompt     string
	Payload    map[string]any
	Timeout    time.Duration
}

// Coordinator owns the lifecycle of intervention requests.
type Coordinator struct {
	store          ports.InterventionStore
	applier        Applier
	serializer     Serializer
	publisher      ports.UpdatePublisher
	clock          func() time.Time
	defaultTimeout time.Duration
	logger         *slog.Logger
	onChange       func(context.Context, *domain.Intervention)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithPublisher emits an update on every intervention change.
func WithPublisher(p ports.UpdatePublisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithDefaultTimeout sets the deadline for requests that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithOnChange registers a callback fired after every stored change.
func WithOnChange(fn func(context.Context, *domain.Intervention)) Option {
	return func(c *Coordinator) {
		c.onChange = fn
	}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store ports.InterventionStore, applier Applier, serializer Serializer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		applier:        applier,
		serializer:     serializer,
		clock:          time.Now,
		defaultTimeout: DefaultTimeout,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request opens a pending intervention. It fails with ErrDuplicatePendingIntervention
// when the same session and node already have one. The caller must hold the session.
func (c *Coordinator) Request(ctx context.Context, r Request) (*domain.Intervention, error) {
	if r.SessionID == "" || r.NodeID == "" {
		return nil, fmt.Errorf("intervention request needs a session and a node")
	}
	if !r.Type.Valid() {
		return nil, fmt.Errorf("unknown intervention type %q", r.Type)
	}

	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	now := c.clock()
	iv := &domain.Intervention{
		ID:         id,
		SessionID:  r.SessionID,
		WorkflowID: r.WorkflowID,
		NodeID:     r.NodeID,
		Type:       r.Type,
		Status:     domain.InterventionPending,
		Prompt:     r.Prompt,
		Payload:    domain.CopyMap(r.Payload),
		CreatedAt:  now,
		ExpiresAt:  now.Add(timeout),
	}

	if err := c.store.Create(ctx, iv); err != nil {
		if errors.Is(err, domain.ErrDuplicatePendingIntervention) {
			return nil, domain.NewSessionError(domain.ErrDuplicatePendingIntervention, r.SessionID, r.NodeID,
				"an intervention is already pending for this node")
		}
		return nil, fmt.Errorf("failed to store intervention: %w", err)
	}

	c.logger.Info("intervention opened",
		"intervention_id", iv.ID,
		"session_id", iv.SessionID,
		"node_id", iv.NodeID,
		"type", iv.Type,
		"expires_at", iv.ExpiresAt,
	)
	c.changed(ctx, iv, domain.UpdateNeedsIntervention)
	return iv, nil
}

// Respond applies a human response. It fails with ErrNotFound for unknown ids and
// ErrAlreadyResponded once the request is no longer pending. A response the tracker
// rejects as a mismatch leaves the request pending so the human can answer again.
func (c *Coordinator) Respond(ctx context.Context, id string, resp domain.InterventionResponse) (*domain.ExecutionState, error) {
	iv, err := c.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	var state *domain.ExecutionState
	err = c.serializer.Do(ctx, iv.SessionID, func(ctx context.Context) error {
		// Re-read under the session lock: an expiry may have won the race.
		current, err := c.pending(ctx, id)
		if err != nil {
			return err
		}

		settled := false
		settle := func(ctx context.Context) error {
			if settled {
				return nil
			}
			settled = true

			now := c.clock()
			current.Status = domain.InterventionResponded
			current.RespondedAt = &now
			current.Response = &resp
			if err := c.store.Update(ctx, current); err != nil {
				return fmt.Errorf("failed to update intervention %s: %w", id, err)
			}

			c.logger.Info("intervention responded",
				"intervention_id", id,
				"session_id", current.SessionID,
				"node_id", current.NodeID,
				"responder", resp.Responder,
			)
			c.changed(ctx, current, domain.UpdateInterventionChanged)
			return nil
		}

		next, applyErr := c.applier.ApplyInterventionResponse(ctx, current, resp, settle)
		if next == nil {
			return applyErr
		}
		state = next
		if err := settle(ctx); err != nil {
			return errors.Join(applyErr, err)
		}
		return applyErr
	})
	return state, err
}

// Expire marks a pending request expired and runs the node's escalation policy.
func (c *Coordinator) Expire(ctx context.Context, id string) (*domain.ExecutionState, error) {
	iv, err := c.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	var state *domain.ExecutionState
	err = c.serializer.Do(ctx, iv.SessionID, func(ctx context.Context) error {
		current, err := c.pending(ctx, id)
		if err != nil {
			return err
		}

		current.Status = domain.InterventionExpired
		if err := c.store.Update(ctx, current); err != nil {
			return fmt.Errorf("failed to update intervention %s: %w", id, err)
		}
		c.logger.Info("intervention expired",
			"intervention_id", id,
			"session_id", current.SessionID,
			"node_id", current.NodeID,
		)
		c.changed(ctx, current, domain.UpdateInterventionChanged)

		next, applyErr := c.applier.ApplyInterventionExpiry(ctx, current)
		if next == nil {
			return applyErr
		}
		state = next
		// The session state already records the escalation.
		return nil
	})
	return state, err
}

// Cancel withdraws a pending request. Unknown or settled requests are ignored.
// The caller must hold the session.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	iv, err := c.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load intervention %s: %w", id, err)
	}
	if !iv.Pending() {
		return nil
	}

	iv.Status = domain.InterventionCancelled
	if err := c.store.Update(ctx, iv); err != nil {
		return fmt.Errorf("failed to update intervention %s: %w", id, err)
	}
	c.logger.Debug("intervention cancelled", "intervention_id", id, "session_id", iv.SessionID)
	c.changed(ctx, iv, domain.UpdateInterventionChanged)
	return nil
}

// Get returns an intervention by id.
func (c *Coordinator) Get(ctx context.Context, id string) (*domain.Intervention, error) {
	return c.lookup(ctx, id)
}

// List returns the interventions of a session ordered by creation time.
func (c *Coordinator) List(ctx context.Context, sessionID string) ([]*domain.Intervention, error) {
	list, err := c.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interventions: %w", err)
	}
	return list, nil
}

// Sweep expires every pending request whose deadline has passed and returns how many it expired.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	pending, err := c.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending interventions: %w", err)
	}

	now := c.clock()
	var errs []error
	expired := 0
	for _, iv := range pending {
		if !iv.Due(now) {
			continue
		}
		if _, err := c.Expire(ctx, iv.ID); err != nil {
			// A response may land between the listing and the lock.
			if errors.Is(err, domain.ErrAlreadyResponded) {
				continue
			}
			errs = append(errs, fmt.Errorf("expire %s: %w", iv.ID, err))
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}

func (c *Coordinator) lookup(ctx context.Context, id string) (*domain.Intervention, error) {
	iv, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("intervention %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load intervention %s: %w", id, err)
	}
	return iv, nil
}

func (c *Coordinator) pending(ctx context.Context, id string) (*domain.Intervention, error) {
	iv, err := c.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !iv.Pending() {
		return nil, domain.NewSessionError(domain.ErrAlreadyResponded, iv.SessionID, iv.NodeID,
			fmt.Sprintf("intervention %s is %s", id, iv.Status))
	}
	return iv, nil
}

func (c *Coordinator) changed(ctx context.Context, iv *domain.Intervention, kind domain.UpdateType) {
	if c.onChange != nil {
		c.onChange(ctx, iv.Clone())
	}
	if c.publisher == nil {
		return
	}
	update := domain.Update{
		ID:           uuid.NewString(),
		Type:         kind,
		SessionID:    iv.SessionID,
		Timestamp:    c.clock(),
		Intervention: iv.Clone(),
	}
	if err := c.publisher.Publish(ctx, update); err != nil {
		c.logger.Error("failed to publish intervention update",
			"intervention_id", iv.ID,
			"session_id", iv.SessionID,
			"err", err,
		)
	}
}
