package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/journey/internal/intent"
	"github.com/aretw0/journey/internal/intervention"
	"github.com/aretw0/journey/internal/logging"
	"github.com/aretw0/journey/internal/runtime"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/observability"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/aretw0/journey/pkg/registry"
	"github.com/aretw0/journey/pkg/session"
	"github.com/google/uuid"
)

// Engine is the high-level entry point of the journey library.
// It binds sessions to mapped journeys, serializes every session's transitions,
// persists the state after each of them and carries out the resulting effects.
type Engine struct {
	loader      ports.GraphLoader
	registry    *registry.Registry
	manager     *session.Manager
	queue       *session.Queue
	coordinator *intervention.Coordinator
	resolver    *intent.Resolver
	evaluator   *runtime.ExprEvaluator

	store     ports.StateStore
	ivStore   ports.InterventionStore
	locker    ports.DistributedLocker
	lockTTL   time.Duration
	publisher ports.UpdatePublisher
	metrics   *observability.Metrics
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	clock     func() time.Time
	newID     func() string

	maxRetries int
	threshold  float64
	floor      float64
	timeout    time.Duration
	maxInput   int

	mu       sync.Mutex
	trackers map[string]*runtime.Tracker
	sweeper  *intervention.Sweeper
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the execution state store. Defaults to an in-memory store.
func WithStore(store ports.StateStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithInterventionStore sets the intervention store. Defaults to an in-memory store.
func WithInterventionStore(store ports.InterventionStore) Option {
	return func(e *Engine) {
		e.ivStore = store
	}
}

// WithLocker enables distributed session locking across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed session locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithPublisher emits an update for every observable change.
func WithPublisher(p ports.UpdatePublisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxRetries sets the retry bound for nodes that do not set max_retries.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// WithIntentThreshold sets the confidence below which an utterance is workflow input.
func WithIntentThreshold(v float64) Option {
	return func(e *Engine) {
		e.threshold = v
	}
}

// WithIntentFloor sets the confidence above which candidates are listed as alternatives.
func WithIntentFloor(v float64) Option {
	return func(e *Engine) {
		e.floor = v
	}
}

// WithMaxInputSize sets the largest utterance HandleMessage accepts, in bytes.
func WithMaxInputSize(n int) Option {
	return func(e *Engine) {
		e.maxInput = n
	}
}

// WithInterventionTimeout sets the deadline of interventions whose node sets none.
func WithInterventionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithMetrics records transitions, intents, interventions and rejections into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithIDGenerator overrides how intervention and update ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		e.newID = gen
	}
}

// New creates an engine serving the workflows of loader.
func New(loader ports.GraphLoader, opts ...Option) (*Engine, error) {
	if loader == nil {
		return nil, fmt.Errorf("journey engine requires a graph loader")
	}

	e := &Engine{
		loader:     loader,
		evaluator:  runtime.NewExprEvaluator(),
		logger:     logging.NewNop(),
		clock:      time.Now,
		newID:      uuid.NewString,
		maxRetries: runtime.DefaultMaxRetries,
		threshold:  intent.DefaultThreshold,
		floor:      intent.DefaultFloor,
		timeout:    intervention.DefaultTimeout,
		trackers:   make(map[string]*runtime.Tracker),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.ivStore == nil {
		e.ivStore = memory.NewInterventionStore()
	}
	if e.metrics != nil {
		e.hooks = e.hooks.Merge(e.metrics.Hooks())
	}

	e.registry = registry.NewRegistry(loader,
		registry.WithGuardChecker(e.evaluator),
		registry.WithLogger(e.logger),
	)

	managerOpts := []session.Option{session.WithLogger(e.logger)}
	if e.locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(e.locker))
	}
	if e.lockTTL > 0 {
		managerOpts = append(managerOpts, session.WithLockTTL(e.lockTTL))
	}
	e.manager = session.NewManager(e.store, managerOpts...)
	e.queue = session.NewQueue(e.manager)

	e.resolver = intent.NewResolver(intent.WithThreshold(e.threshold), intent.WithFloor(e.floor))

	coordOpts := []intervention.Option{
		intervention.WithClock(e.clock),
		intervention.WithLogger(e.logger),
		intervention.WithDefaultTimeout(e.timeout),
		intervention.WithOnChange(func(ctx context.Context, iv *domain.Intervention) {
			if e.hooks.OnIntervention != nil {
				e.hooks.OnIntervention(ctx, iv)
			}
		}),
	}
	if e.publisher != nil {
		coordOpts = append(coordOpts, intervention.WithPublisher(e.publisher))
	}
	e.coordinator = intervention.NewCoordinator(e.ivStore, &applier{engine: e}, e.queue, coordOpts...)
	return e, nil
}

// Registry returns the journey registry, e.g. to invalidate a workflow after its source changed.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Journey returns the current journey definition of a workflow.
func (e *Engine) Journey(ctx context.Context, workflowID string) (*domain.JourneyDefinition, error) {
	j, err := e.registry.Resolve(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return j.Definition, nil
}

// Workflows lists the workflows the engine can serve.
func (e *Engine) Workflows(ctx context.Context) ([]string, error) {
	return e.registry.Workflows(ctx)
}

// StartSession binds a new session to the current journey of a workflow and starts it.
// An empty sessionID gets a generated one.
func (e *Engine) StartSession(ctx context.Context, sessionID, workflowID string, initialContext map[string]any) (*domain.Reply, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	j, err := e.registry.Resolve(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	tracker, err := e.trackerFor(j)
	if err != nil {
		return nil, err
	}

	var reply *domain.Reply
	err = e.queue.Do(ctx, sessionID, func(ctx context.Context) error {
		if err := e.manager.CreateLocked(ctx, tracker.NewState(sessionID)); err != nil {
			return err
		}
		e.logger.Info("session created",
			"session_id", sessionID,
			"workflow_id", workflowID,
			"journey_id", j.Definition.JourneyID,
		)

		next, err := e.transition(ctx, sessionID, "start", func(t *runtime.Tracker, s *domain.ExecutionState) (*domain.ExecutionState, []domain.Effect, error) {
			return t.Start(s, initialContext)
		}, nil)
		if next != nil {
			reply = e.reply(j, next)
		}
		return err
	})
	return reply, err
}

// HandleEvent applies a step notification of the execution engine.
func (e *Engine) HandleEvent(ctx context.Context, sessionID string, event domain.EngineEvent) (*domain.Reply, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock()
	}
	return e.run(ctx, sessionID, string(event.Type), func(t *runtime.Tracker, s *domain.ExecutionState) (*domain.ExecutionState, []domain.Effect, error) {
		return t.ApplyEvent(s, event)
	})
}

// HandleMessage resolves a user utterance and applies it. A reply that fits the prompt
// the session waits on is applied as an answer even when it reads like a command.
// Otherwise control commands drive the tracker, informational commands answer from the
// current state and anything else is a reply to the prompt.
func (e *Engine) HandleMessage(ctx context.Context, sessionID, utterance string, history []domain.Message) (*domain.Reply, error) {
	clean, err := intent.Sanitize(utterance, e.maxInput)
	if err != nil {
		e.logger.Warn("utterance rejected", "session_id", sessionID, "size", len(utterance), "error", err)
		return nil, domain.NewSessionError(domain.ErrInputMismatch, sessionID, "", "the message cannot be read").WithCause(err)
	}
	utterance = clean

	var resolved domain.ResolvedIntent
	var info string

	reply, err := e.run(ctx, sessionID, "message", func(t *runtime.Tracker, s *domain.ExecutionState) (*domain.ExecutionState, []domain.Effect, error) {
		answer := t.Expects(s, utterance)
		if answer {
			resolved = domain.ResolvedIntent{Command: domain.CommandNone, Confidence: 1}
		} else {
			resolved = e.resolver.Resolve(utterance, history, s)
		}
		if e.hooks.OnIntent != nil {
			e.hooks.OnIntent(ctx, sessionID, resolved)
		}
		e.logger.Debug("intent resolved",
			"session_id", sessionID,
			"command", resolved.Command,
			"confidence", resolved.Confidence,
		)

		if answer {
			return t.ApplyInput(s, utterance)
		}
		if action, ok := resolved.Command.Action(); ok {
			return t.ApplyCommand(s, action, resolved.Parameters)
		}
		if resolved.Command == domain.CommandNone {
			return t.ApplyInput(s, utterance)
		}

		text, err := describe(t.Journey(), s, resolved)
		if err != nil {
			return nil, nil, err
		}
		info = text
		return nil, nil, nil
	})
	if reply != nil {
		reply.Intent = &resolved
		if info != "" {
			reply.PromptText = info
		}
	}
	return reply, err
}

// RespondIntervention answers a pending intervention and returns the session's reply.
func (e *Engine) RespondIntervention(ctx context.Context, interventionID string, response domain.InterventionResponse) (*domain.Reply, error) {
	state, err := e.coordinator.Respond(ctx, interventionID, response)
	if state == nil {
		return nil, err
	}
	j, jerr := e.journeyOf(ctx, state)
	if jerr != nil {
		return nil, errors.Join(err, jerr)
	}
	return e.reply(j, state), err
}

// Intervention returns an intervention by id.
func (e *Engine) Intervention(ctx context.Context, interventionID string) (*domain.Intervention, error) {
	return e.coordinator.Get(ctx, interventionID)
}

// Interventions lists the interventions of a session.
func (e *Engine) Interventions(ctx context.Context, sessionID string) ([]*domain.Intervention, error) {
	return e.coordinator.List(ctx, sessionID)
}

// Status returns the execution state of a session.
func (e *Engine) Status(ctx context.Context, sessionID string) (*domain.ExecutionState, error) {
	return e.manager.Load(ctx, sessionID)
}

// Reply renders the current reply of a session without changing it.
func (e *Engine) Reply(ctx context.Context, sessionID string) (*domain.Reply, error) {
	state, err := e.manager.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	j, err := e.journeyOf(ctx, state)
	if err != nil {
		return nil, err
	}
	return e.reply(j, state), nil
}

// Stop stops a session. Stopping a stopped session is a no-op.
func (e *Engine) Stop(ctx context.Context, sessionID string) (*domain.Reply, error) {
	return e.run(ctx, sessionID, "stop", func(t *runtime.Tracker, s *domain.ExecutionState) (*domain.ExecutionState, []domain.Effect, error) {
		return t.ApplyCommand(s, domain.ActionStop, nil)
	})
}

// Archive removes a session's state and interventions.
func (e *Engine) Archive(ctx context.Context, sessionID string) error {
	return e.queue.Do(ctx, sessionID, func(ctx context.Context) error {
		if _, err := e.store.Load(ctx, sessionID); err != nil {
			return err
		}
		if err := e.ivStore.DeleteSession(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete interventions of %s: %w", sessionID, err)
		}
		if err := e.store.Delete(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
		}
		e.logger.Info("session archived", "session_id", sessionID)
		return nil
	})
}

// Sessions lists stored session ids.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.manager.List(ctx)
}

// SweepInterventions expires every overdue intervention once.
func (e *Engine) SweepInterventions(ctx context.Context) (int, error) {
	return e.coordinator.Sweep(ctx)
}

// StartSweeper expires overdue interventions on a cron schedule until StopSweeper.
func (e *Engine) StartSweeper(ctx context.Context, schedule string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sweeper != nil {
		return fmt.Errorf("intervention sweeper already running")
	}
	s := intervention.NewSweeper(e.coordinator, schedule)
	if err := s.Start(ctx); err != nil {
		return err
	}
	e.sweeper = s
	return nil
}

// StopSweeper stops the sweeper started by StartSweeper.
func (e *Engine) StopSweeper() {
	e.mu.Lock()
	s := e.sweeper
	e.sweeper = nil
	e.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// operation is one tracker call applied to the loaded state of a session.
type operation func(t *runtime.Tracker, s *domain.ExecutionState) (*domain.ExecutionState, []domain.Effect, error)

// run applies op inside the session's queue and renders the resulting reply.
// When the operation failed the session, the reply is returned together with the error.
func (e *Engine) run(ctx context.Context, sessionID, trigger string, op operation) (*domain.Reply, error) {
	var reply *domain.Reply
	err := e.queue.Do(ctx, sessionID, func(ctx context.Context) error {
		next, err := e.transition(ctx, sessionID, trigger, op, nil)
		if next != nil {
			j, jerr := e.journeyOf(ctx, next)
			if jerr != nil {
				return errors.Join(err, jerr)
			}
			reply = e.reply(j, next)
		}
		return err
	})
	return reply, err
}

// transition loads the session, applies op, persists the result, carries out its
// effects and publishes the change. The caller must hold the session.
// A rejected operation returns a nil state. A no-op returns the unchanged state.
// settle, when set, runs after the save and before the effects.
func (e *Engine) transition(ctx context.Context, sessionID, trigger string, op operation, settle func(context.Context) error) (*domain.ExecutionState, error) {
	began := e.clock()

	state, err := e.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	j, err := e.journeyOf(ctx, state)
	if err != nil {
		return nil, err
	}
	tracker, err := e.trackerFor(j)
	if err != nil {
		return nil, err
	}

	next, fx, opErr := op(tracker, state)
	if next == nil {
		if opErr != nil {
			e.rejected(ctx, sessionID, trigger, opErr)
			return nil, opErr
		}
		return state, nil
	}

	if err := e.store.Save(ctx, sessionID, next); err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}

	var errs []error
	if settle != nil {
		if err := settle(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, effect := range fx {
		err := e.carryOut(ctx, next, effect)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if effect.Kind == domain.EffectOpenIntervention {
			if failed := e.abandonGate(ctx, tracker, next, effect.NodeID, err); failed != nil {
				next = failed
			}
		}
	}

	e.publish(ctx, j, state, next)

	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(ctx, &domain.TransitionEvent{
			SessionID: sessionID,
			NodeID:    next.CurrentNodeID,
			Trigger:   trigger,
			From:      state.Status,
			To:        next.Status,
			Seq:       next.Seq,
			Duration:  e.clock().Sub(began),
		})
	}

	if opErr != nil {
		e.logger.Warn("session failed",
			"session_id", sessionID,
			"node_id", next.CurrentNodeID,
			"trigger", trigger,
			"err", opErr,
		)
		errs = append([]error{opErr}, errs...)
	}
	return next, errors.Join(errs...)
}

func (e *Engine) carryOut(ctx context.Context, s *domain.ExecutionState, effect domain.Effect) error {
	switch effect.Kind {
	case domain.EffectOpenIntervention:
		_, err := e.coordinator.Request(ctx, intervention.Request{
			ID:         effect.InterventionID,
			SessionID:  s.SessionID,
			WorkflowID: s.WorkflowID,
			NodeID:     effect.NodeID,
			Type:       effect.InterventionType,
			Prompt:     effect.Prompt,
			Payload:    effect.Payload,
			Timeout:    effect.Timeout,
		})
		return err
	case domain.EffectCloseIntervention:
		return e.coordinator.Cancel(ctx, effect.InterventionID)
	default:
		return fmt.Errorf("unknown effect %q", effect.Kind)
	}
}

// abandonGate fails a session whose gate intervention could not be opened and saves
// the failure. It returns nil when the session was left as it was.
func (e *Engine) abandonGate(ctx context.Context, t *runtime.Tracker, s *domain.ExecutionState, nodeID string, cause error) *domain.ExecutionState {
	failed, _ := t.AbandonGate(s, nodeID, cause)
	if failed == nil {
		return nil
	}
	e.logger.Error("intervention could not be opened",
		"session_id", s.SessionID,
		"node_id", nodeID,
		"err", cause,
	)
	if err := e.store.Save(ctx, s.SessionID, failed); err != nil {
		e.logger.Error("failed to save abandoned gate", "session_id", s.SessionID, "err", err)
		return nil
	}
	return failed
}

func (e *Engine) publish(ctx context.Context, j *domain.Journey, prev, next *domain.ExecutionState) {
	if e.publisher == nil {
		return
	}
	update := domain.Update{
		ID:        e.newID(),
		Type:      domain.UpdateStateChanged,
		SessionID: next.SessionID,
		Timestamp: next.LastUpdatedAt,
		Status:    next.Status,
		Diff:      domain.Diff(prev, next),
		Reply:     e.reply(j, next),
	}
	if err := e.publisher.Publish(ctx, update); err != nil {
		e.logger.Error("failed to publish state update", "session_id", next.SessionID, "err", err)
	}
}

func (e *Engine) rejected(ctx context.Context, sessionID, trigger string, err error) {
	if e.hooks.OnRejected != nil {
		e.hooks.OnRejected(ctx, sessionID, err)
	}
	level := slog.LevelWarn
	if domain.IsRetryable(err) {
		level = slog.LevelDebug
	}
	e.logger.Log(ctx, level, "operation rejected",
		"session_id", sessionID,
		"trigger", trigger,
		"code", domain.ErrorCode(err),
		"err", err,
	)
}

// journeyOf returns the journey a session is bound to. Sessions created before a
// restart or a remap may point at a version the registry no longer holds; they
// continue on the current journey.
func (e *Engine) journeyOf(ctx context.Context, s *domain.ExecutionState) (*domain.Journey, error) {
	if j, ok := e.registry.Version(s.WorkflowID, s.MappingVersion); ok && j.Definition.JourneyID == s.JourneyID {
		return j, nil
	}
	j, err := e.registry.Resolve(ctx, s.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve journey of session %s: %w", s.SessionID, err)
	}
	if j.Definition.JourneyID != s.JourneyID {
		e.logger.Warn("session journey unavailable, using current mapping",
			"session_id", s.SessionID,
			"workflow_id", s.WorkflowID,
			"journey_id", s.JourneyID,
			"current_journey_id", j.Definition.JourneyID,
		)
	}
	return j, nil
}

// trackerFor returns the cached tracker of a journey.
func (e *Engine) trackerFor(j *domain.Journey) (*runtime.Tracker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := j.Definition.JourneyID
	if t, ok := e.trackers[key]; ok && t.Journey() == j {
		return t, nil
	}
	t, err := runtime.NewTracker(j,
		runtime.WithEvaluator(e.evaluator),
		runtime.WithMaxRetries(e.maxRetries),
		runtime.WithClock(e.clock),
		runtime.WithIDGenerator(e.newID),
		runtime.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	e.trackers[key] = t
	return t, nil
}

// applier feeds intervention outcomes into the tracker. The coordinator calls it
// inside the session's queue.
type applier struct {
	engine *Engine
}

func (a *applier) ApplyInterventionResponse(ctx context.Context, iv *domain.Intervention, resp domain.InterventionResponse, settle func(context.Context) error) (*domain.ExecutionState, error) {
	return a.engine.transition(ctx, iv.SessionID, "intervention_response", func(t *runtime.Tracker, s *domain.ExecutionState) (*domain.ExecutionState, []domain.Effect, error) {
		return t.ApplyInterventionResponse(s, iv, resp)
	}, settle)
}

func (a *applier) ApplyInterventionExpiry(ctx context.Context, iv *domain.Intervention) (*domain.ExecutionState, error) {
	return a.engine.transition(ctx, iv.SessionID, "intervention_expiry", func(t *runtime.Tracker, s *domain.ExecutionState) (*domain.ExecutionState, []domain.Effect, error) {
		return t.ApplyInterventionExpiry(s, iv)
	}, nil)
}
