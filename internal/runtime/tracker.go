// Package runtime holds the execution state tracker: the transition function that
// moves a session through a journey in response to engine events, user commands,
// replies and intervention outcomes.
//
// The tracker never blocks and never mutates the state it is given. Every operation
// returns either a new state to persist (plus effects to carry out), or a rejection
// error that leaves the session untouched. Callers must serialize operations per session.
package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/journey/internal/logging"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/google/uuid"
)

// DefaultMaxRetries is the retry bound for nodes that do not set max_retries.
const DefaultMaxRetries = 2

// Tracker applies transitions for sessions of one journey.
type Tracker struct {
	journey    *domain.Journey
	configs    map[string]domain.NodeConfig
	eval       Evaluator
	maxRetries int
	clock      func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithEvaluator sets the guard evaluator.
func WithEvaluator(e Evaluator) TrackerOption {
	return func(t *Tracker) {
		t.eval = e
	}
}

// WithMaxRetries sets the default retry bound.
func WithMaxRetries(n int) TrackerOption {
	return func(t *Tracker) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// WithIDGenerator overrides how intervention ids are generated.
func WithIDGenerator(gen func() string) TrackerOption {
	return func(t *Tracker) {
		t.newID = gen
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker binds a tracker to a mapped journey.
func NewTracker(journey *domain.Journey, opts ...TrackerOption) (*Tracker, error) {
	if journey == nil || journey.Graph == nil || journey.Definition == nil {
		return nil, fmt.Errorf("tracker requires a mapped journey")
	}

	t := &Tracker{
		journey:    journey,
		configs:    make(map[string]domain.NodeConfig, len(journey.Graph.Nodes)),
		maxRetries: DefaultMaxRetries,
		clock:      time.Now,
		newID:      uuid.NewString,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.eval == nil {
		t.eval = NewExprEvaluator()
	}

	for _, n := range journey.Graph.Nodes {
		cfg, err := domain.DecodeNodeConfig(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		t.configs[n.ID] = cfg
	}
	return t, nil
}

// Journey returns the journey the tracker is bound to.
func (t *Tracker) Journey() *domain.Journey {
	return t.journey
}

// NewState creates the idle state of a new session.
func (t *Tracker) NewState(sessionID string) *domain.ExecutionState {
	return domain.NewExecutionState(sessionID, t.journey.Definition, len(t.journey.Graph.Nodes))
}

// Start moves an idle session to its entry node. initial seeds the journey context.
func (t *Tracker) Start(s *domain.ExecutionState, initial map[string]any) (*domain.ExecutionState, []domain.Effect, error) {
	if s.Terminal() {
		return nil, nil, t.reject(s, domain.ErrAlreadyTerminal, string(s.Status))
	}
	if s.Status != domain.StatusIdle {
		return nil, nil, t.reject(s, domain.ErrUnexpectedEvent, "session already started")
	}

	next := s.Clone()
	next.StartedAt = t.clock()
	for k, v := range initial {
		next.JourneyContext[k] = v
	}

	var fx effects
	err := t.enter(next, t.journey.Definition.EntryNodeID, &fx)
	return t.commit(s, next, fx, err)
}

// effects collects the side effects of one transition.
type effects []domain.Effect

func (f *effects) add(e domain.Effect) {
	*f = append(*f, e)
}

// commit finalizes a transition: derived fields, sequence and timestamps.
// A non-nil err with a non-nil state means the session failed and the failure must be persisted.
func (t *Tracker) commit(prev, next *domain.ExecutionState, fx effects, err error) (*domain.ExecutionState, []domain.Effect, error) {
	if err != nil && next.Status != domain.StatusFailed {
		return nil, nil, err
	}

	if !domain.StatusTransitions.CanTransition(prev.Status, next.Status) {
		return nil, nil, fmt.Errorf("invalid status change %s -> %s", prev.Status, next.Status)
	}

	now := t.clock()
	if now.Before(prev.LastUpdatedAt) {
		now = prev.LastUpdatedAt
	}
	next.LastUpdatedAt = now
	if next.StartedAt.IsZero() {
		next.StartedAt = now
	}
	next.Seq = prev.Seq + 1
	next.AwaitingUserInput = next.Status == domain.StatusAwaitingInput
	next.AvailableActions = domain.AvailableActions(next)

	t.logger.Debug("transition applied",
		"session_id", next.SessionID,
		"node_id", next.CurrentNodeID,
		"from", prev.Status,
		"to", next.Status,
		"seq", next.Seq,
	)
	return next, fx, err
}

// holdPause keeps a paused session paused after absorbing an event.
// Only an explicit resume restarts it; completion and failure still apply.
func holdPause(prev, next *domain.ExecutionState) {
	if prev.Status == domain.StatusPaused &&
		(next.Status == domain.StatusRunning || next.Status == domain.StatusAwaitingInput) {
		next.Status = domain.StatusPaused
	}
}

func (t *Tracker) reject(s *domain.ExecutionState, kind error, reason string) *domain.SessionError {
	return domain.NewSessionError(kind, s.SessionID, s.CurrentNodeID, reason)
}

// fail records a session level failure on next.
func (t *Tracker) fail(next *domain.ExecutionState, kind error, nodeID, reason string) *domain.SessionError {
	err := domain.NewSessionError(kind, next.SessionID, nodeID, reason)
	info := err.Info()
	info.At = t.clock()
	next.Status = domain.StatusFailed
	next.LastError = info
	next.Awaiting = nil
	return err
}

func (t *Tracker) config(nodeID string) domain.NodeConfig {
	return t.configs[nodeID]
}

func (t *Tracker) node(nodeID string) (domain.Node, domain.StateMapping, error) {
	n, ok := t.journey.Graph.Node(nodeID)
	if !ok {
		return domain.Node{}, domain.StateMapping{}, fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	sm, _ := t.journey.Definition.State(nodeID)
	return n, sm, nil
}

// checkActive rejects operations on terminal sessions and on sessions that have not started.
func (t *Tracker) checkActive(s *domain.ExecutionState) error {
	if s.Terminal() {
		return t.reject(s, domain.ErrAlreadyTerminal, string(s.Status))
	}
	if s.Status == domain.StatusIdle {
		return t.reject(s, domain.ErrUnexpectedEvent, "session not started")
	}
	return nil
}
