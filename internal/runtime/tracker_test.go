package runtime_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/journey/internal/mapper"
	"github.com/aretw0/journey/internal/runtime"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t       *testing.T
	tracker *runtime.Tracker
	state   *domain.ExecutionState
	effects []domain.Effect
	ids     int
}

func newHarness(t *testing.T, b *dsl.Builder, opts ...runtime.TrackerOption) *harness {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	def, err := mapper.Map(g, mapper.DefaultOptions())
	require.NoError(t, err)

	h := &harness{t: t}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	opts = append([]runtime.TrackerOption{
		runtime.WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		}),
		runtime.WithIDGenerator(func() string {
			h.ids++
			return fmt.Sprintf("iv-%d", h.ids)
		}),
	}, opts...)

	h.tracker, err = runtime.NewTracker(&domain.Journey{Graph: g, Definition: def}, opts...)
	require.NoError(t, err)
	h.state = h.tracker.NewState("s1")
	return h
}

// apply commits a successful transition and checks the accounting invariant.
func (h *harness) apply(next *domain.ExecutionState, fx []domain.Effect, err error) {
	h.t.Helper()
	require.NoError(h.t, err)
	require.NotNil(h.t, next)
	h.accept(next, fx)
}

func (h *harness) accept(next *domain.ExecutionState, fx []domain.Effect) {
	h.t.Helper()
	assert.Equal(h.t, h.state.Seq+1, next.Seq)
	assert.False(h.t, next.LastUpdatedAt.Before(h.state.LastUpdatedAt))
	assert.LessOrEqual(h.t, len(next.CompletedNodes)+len(next.FailedNodes)+len(next.SkippedNodes), next.TotalNodes)
	h.state = next
	h.effects = fx
}

func (h *harness) start() {
	h.t.Helper()
	h.apply(h.tracker.Start(h.state, nil))
}

func (h *harness) completed(nodeID string, data string) {
	h.t.Helper()
	ev := domain.EngineEvent{Type: domain.EventStepCompleted, NodeID: nodeID}
	if data != "" {
		ev.Data = json.RawMessage(data)
	}
	h.apply(h.tracker.ApplyEvent(h.state, ev))
}

func (h *harness) failed(nodeID string) {
	h.t.Helper()
	h.apply(h.tracker.ApplyEvent(h.state, domain.EngineEvent{Type: domain.EventStepFailed, NodeID: nodeID, Error: "boom"}))
}

func (h *harness) command(a domain.Action) {
	h.t.Helper()
	h.apply(h.tracker.ApplyCommand(h.state, a, nil))
}

func (h *harness) intervention() *domain.Intervention {
	h.t.Helper()
	require.NotNil(h.t, h.state.Awaiting)
	for _, fx := range h.effects {
		if fx.Kind == domain.EffectOpenIntervention {
			return &domain.Intervention{
				ID:        fx.InterventionID,
				SessionID: h.state.SessionID,
				NodeID:    fx.NodeID,
				Type:      fx.InterventionType,
				Status:    domain.InterventionPending,
			}
		}
	}
	h.t.Fatalf("no open intervention effect in %v", h.effects)
	return nil
}

func linearABC() *dsl.Builder {
	b := dsl.New("linear")
	b.Action("A").Go("B")
	b.Action("B").Go("C")
	b.Action("C")
	return b
}

func approvalFlow() *dsl.Builder {
	b := dsl.New("approval")
	b.Action("A").Go("B")
	b.Human("B").Prompt("Approve order {{order}}?").Go("C")
	b.Action("C")
	return b
}

func TestTracker_LinearRunCompletes(t *testing.T) {
	h := newHarness(t, linearABC())
	assert.Equal(t, domain.StatusIdle, h.state.Status)
	assert.Equal(t, 3, h.state.TotalNodes)

	h.start()
	assert.Equal(t, domain.StatusRunning, h.state.Status)
	assert.Equal(t, "A", h.state.CurrentNodeID)

	h.completed("A", "")
	assert.Equal(t, domain.StatusRunning, h.state.Status)
	assert.Equal(t, "B", h.state.CurrentNodeID)

	h.completed("B", "")
	assert.Equal(t, domain.StatusRunning, h.state.Status)

	h.completed("C", "")
	assert.Equal(t, domain.StatusCompleted, h.state.Status)
	assert.Equal(t, []string{"A", "B", "C"}, h.state.CompletedNodes)
	assert.Empty(t, h.state.CurrentNodeID)
	assert.Empty(t, h.state.AvailableActions)
	assert.Equal(t, 100.0, h.state.Progress().Percent)

	_, _, err := h.tracker.ApplyEvent(h.state, domain.EngineEvent{Type: domain.EventStepCompleted, NodeID: "C"})
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestTracker_HumanApprovalResumesRun(t *testing.T) {
	h := newHarness(t, approvalFlow())
	h.start()
	h.apply(h.tracker.ApplyEvent(h.state, domain.EngineEvent{
		Type: domain.EventStepCompleted, NodeID: "A", Data: json.RawMessage(`{"order":"#42"}`),
	}))

	assert.Equal(t, domain.StatusAwaitingInput, h.state.Status)
	assert.True(t, h.state.AwaitingUserInput)
	assert.Equal(t, "B", h.state.CurrentNodeID)
	require.Len(t, h.effects, 1)
	assert.Equal(t, domain.EffectOpenIntervention, h.effects[0].Kind)
	assert.Equal(t, domain.InterventionApproval, h.effects[0].InterventionType)
	assert.Equal(t, "Approve order #42?", h.effects[0].Prompt)

	// The engine may not complete B before the approval.
	_, _, err := h.tracker.ApplyEvent(h.state, domain.EngineEvent{Type: domain.EventStepCompleted, NodeID: "B"})
	assert.ErrorIs(t, err, domain.ErrUnexpectedEvent)

	iv := h.intervention()
	approved := true
	h.apply(h.tracker.ApplyInterventionResponse(h.state, iv, domain.InterventionResponse{Approved: &approved}))
	assert.Equal(t, domain.StatusRunning, h.state.Status)
	assert.False(t, h.state.AwaitingUserInput)

	h.completed("B", "")
	h.completed("C", "")
	assert.Equal(t, domain.StatusCompleted, h.state.Status)
	assert.Equal(t, []string{"A", "B", "C"}, h.state.CompletedNodes)
}

func TestTracker_RetriesThenFails(t *testing.T) {
	b := dsl.New("retry")
	b.Action("A").Go("B")
	b.Action("B").MaxRetries(1).Go("C")
	b.Action("C")

	h := newHarness(t, b)
	h.start()
	h.completed("A", "")

	h.failed("B")
	assert.Equal(t, domain.StatusRunning, h.state.Status)
	assert.Equal(t, 1, h.state.ErrorCount)
	assert.Equal(t, "B", h.state.CurrentNodeID)
	assert.Empty(t, h.state.FailedNodes)

	h.failed("B")
	assert.Equal(t, domain.StatusFailed, h.state.Status)
	assert.Equal(t, 2, h.state.ErrorCount)
	assert.Equal(t, []string{"B"}, h.state.FailedNodes)
	require.NotNil(t, h.state.LastError)
	assert.Equal(t, "step_failed", h.state.LastError.Code)
	assert.Equal(t, []domain.Action{domain.ActionRetry, domain.ActionSkip, domain.ActionStop}, h.state.AvailableActions)

	// A manual retry re-enters the node with a fresh budget.
	h.command(domain.ActionRetry)
	assert.Equal(t, domain.StatusRunning, h.state.Status)
	assert.Empty(t, h.state.FailedNodes)
	h.completed("B", "")
	h.completed("C", "")
	assert.Equal(t, domain.StatusCompleted, h.state.Status)
}

func TestTracker_DefaultRetryBound(t *testing.T) {
	h := newHarness(t, linearABC(), runtime.WithMaxRetries(0))
	h.start()
	h.failed("A")
	assert.Equal(t, domain.StatusFailed, h.state.Status)
}

func TestTracker_EscalateSkip(t *testing.T) {
	b := dsl.New("skip")
	b.Action("A").NoRetry().Escalate(domain.EscalateSkip).Go("B")
	b.Action("B")

	h := newHarness(t, b)
	h.start()
	h.failed("A")
	assert.Equal(t, domain.StatusRunning, h.state.Status)
	assert.Equal(t, "B", h.state.CurrentNodeID)
	assert.Equal(t, []string{"A"}, h.state.FailedNodes)

	h.completed("B", "")
	assert.Equal(t, domain.StatusCompleted, h.state.Status)
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, approvalFlow())
	h.start()
	h.completed("A", "")

	h.command(domain.ActionStop)
	assert.Equal(t, domain.StatusStopped, h.state.Status)
	require.Len(t, h.effects, 1)
	assert.Equal(t, domain.EffectCloseIntervention, h.effects[0].Kind)

	once := h.state.Clone()
	next, fx, err := h.tracker.ApplyCommand(h.state, domain.ActionStop, nil)
	assert.NoError(t, err)
	assert.Nil(t, next)
	assert.Nil(t, fx)
	assert.Equal(t, once, h.state)

	_, _, err = h.tracker.ApplyCommand(h.state, domain.ActionResume, nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestTracker_PauseAbsorbsEvents(t *testing.T) {
	h := newHarness(t, linearABC())
	h.start()

	h.command(domain.ActionPause)
	assert.Equal(t, domain.StatusPaused, h.state.Status)
	assert.Equal(t, []domain.Action{domain.ActionResume, domain.ActionStop}, h.state.AvailableActions)

	h.completed("A", "")
	assert.Equal(t, domain.StatusPaused, h.state.Status)
	assert.Equal(t, "B", h.state.CurrentNodeID)

	_, _, err := h.tracker.ApplyCommand(h.state, domain.ActionPause, nil)
	assert.ErrorIs(t, err, domain.ErrCommandUnavailable)

	h.command(domain.ActionResume)
	assert.Equal(t, domain.StatusRunning, h.state.Status)
}

func TestTracker_ResumeReturnsToAwaiting(t *testing.T) {
	h := newHarness(t, approvalFlow())
	h.start()
	h.completed("A", "")

	h.command(domain.ActionPause)
	assert.False(t, h.state.AwaitingUserInput)
	h.command(domain.ActionResume)
	assert.Equal(t, domain.StatusAwaitingInput, h.state.Status)
	assert.True(t, h.state.AwaitingUserInput)
}

func TestTracker_UnexpectedEventLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, linearABC())
	h.start()
	before := h.state.Clone()

	next, _, err := h.tracker.ApplyEvent(h.state, domain.EngineEvent{Type: domain.EventStepCompleted, NodeID: "C"})
	assert.Nil(t, next)
	assert.ErrorIs(t, err, domain.ErrUnexpectedEvent)
	assert.Equal(t, before, h.state)

	var serr *domain.SessionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "s1", serr.SessionID)
	assert.Equal(t, "C", serr.NodeID)
}

func TestTracker_ConditionBranches(t *testing.T) {
	build := func() *dsl.Builder {
		b := dsl.New("branch")
		b.Action("collect").Go("check")
		b.Condition("check").
			Branch("amount > 100", "review").
			Go("pay")
		b.Human("review").Go("pay")
		b.Action("pay").Go("done")
		b.Terminal("done")
		return b
	}

	t.Run("small amount skips review", func(t *testing.T) {
		h := newHarness(t, build())
		h.start()
		h.completed("collect", `{"amount": 20}`)
		assert.Equal(t, "pay", h.state.CurrentNodeID)
		assert.Equal(t, domain.StatusRunning, h.state.Status)

		h.completed("pay", "")
		assert.Equal(t, domain.StatusCompleted, h.state.Status)
		assert.Equal(t, []string{"check", "collect", "done", "pay"}, h.state.CompletedNodes)
		assert.Equal(t, []string{"review"}, h.state.SkippedNodes)
	})

	t.Run("large amount needs review", func(t *testing.T) {
		h := newHarness(t, build())
		h.start()
		h.completed("collect", `{"amount": 500}`)
		assert.Equal(t, "review", h.state.CurrentNodeID)
		assert.Equal(t, domain.StatusAwaitingInput, h.state.Status)
	})
}

func TestTracker_NoMatchingTransitionFailsSession(t *testing.T) {
	b := dsl.New("nomatch")
	b.Action("A").Go("check")
	b.Condition("check").
		Branch("amount > 100", "big").
		Branch("amount <= 100", "small")
	b.Terminal("big")
	b.Terminal("small")

	h := newHarness(t, b)
	h.start()
	next, _, err := h.tracker.ApplyEvent(h.state, domain.EngineEvent{
		Type: domain.EventStepCompleted, NodeID: "A", Data: json.RawMessage(`{"amount": "n/a"}`),
	})
	require.ErrorIs(t, err, domain.ErrNoMatchingTransition)
	require.NotNil(t, next)
	h.accept(next, nil)
	assert.Equal(t, domain.StatusFailed, h.state.Status)
	assert.Equal(t, "no_matching_transition", h.state.LastError.Code)
	assert.Equal(t, "check", h.state.LastError.NodeID)
}

func TestTracker_Confirmation(t *testing.T) {
	b := dsl.New("confirm")
	b.Action("A").Confirm().Go("B")
	b.Action("B")

	h := newHarness(t, b)
	h.start()
	assert.Equal(t, domain.StatusAwaitingInput, h.state.Status)
	require.NotNil(t, h.state.Awaiting)
	assert.Equal(t, domain.InputConfirmation, h.state.Awaiting.Kind)
	assert.Empty(t, h.effects)

	_, _, err := h.tracker.ApplyInput(h.state, "maybe later")
	assert.ErrorIs(t, err, domain.ErrInputMismatch)
	assert.True(t, domain.IsRetryable(err))

	h.apply(h.tracker.ApplyInput(h.state, "yes"))
	assert.Equal(t, domain.StatusRunning, h.state.Status)
	h.completed("A", "")
	assert.Equal(t, "B", h.state.CurrentNodeID)
}

func TestTracker_ConfirmationDeclinedSkips(t *testing.T) {
	b := dsl.New("confirm")
	b.Action("A").Confirm().Go("B")
	b.Action("B")

	h := newHarness(t, b)
	h.start()
	h.apply(h.tracker.ApplyInput(h.state, "no"))
	assert.Equal(t, []string{"A"}, h.state.SkippedNodes)
	assert.Equal(t, "B", h.state.CurrentNodeID)
}

func TestTracker_UserChoiceDecision(t *testing.T) {
	b := dsl.New("choice")
	b.Action("quote").
		Choice("Express", "fast").
		Choice("Standard", "slow")
	b.Action("fast")
	b.Action("slow")

	h := newHarness(t, b)
	h.start()
	h.completed("quote", "")
	assert.Equal(t, domain.StatusAwaitingInput, h.state.Status)
	require.NotNil(t, h.state.Awaiting)
	assert.Equal(t, domain.InputDecision, h.state.Awaiting.Kind)
	assert.Equal(t, []string{"express", "standard"}, h.state.Awaiting.Choices)

	_, _, err := h.tracker.ApplyInput(h.state, "overnight")
	assert.ErrorIs(t, err, domain.ErrInputMismatch)
	assert.False(t, h.tracker.Expects(h.state, "overnight"))
	assert.True(t, h.tracker.Expects(h.state, "standard"))

	h.apply(h.tracker.ApplyInput(h.state, "Standard"))
	assert.Equal(t, "slow", h.state.CurrentNodeID)
	assert.Equal(t, "standard", h.state.Choices["quote"])
}

func TestTracker_DataInputIntervention(t *testing.T) {
	b := dsl.New("data")
	b.Human("ask").Input("amount", domain.VarNumber).Go("pay")
	b.Action("pay").Branch("amount > 10", "big").Go("small")
	b.Action("big")
	b.Action("small")

	h := newHarness(t, b)
	h.start()
	iv := h.intervention()
	assert.Equal(t, domain.InterventionDataInput, iv.Type)
	assert.Equal(t, "ask_amount", h.state.Awaiting.Slot)

	_, _, err := h.tracker.ApplyInterventionResponse(h.state, iv, domain.InterventionResponse{Value: "lots"})
	assert.ErrorIs(t, err, domain.ErrInputMismatch)

	h.apply(h.tracker.ApplyInterventionResponse(h.state, iv, domain.InterventionResponse{Value: "25"}))
	assert.Equal(t, 25.0, h.state.UserInputs["ask_amount"])

	h.completed("ask", "")
	h.completed("pay", "")
	assert.Equal(t, "big", h.state.CurrentNodeID)
}

func TestTracker_RejectedApproval(t *testing.T) {
	h := newHarness(t, approvalFlow())
	h.start()
	h.completed("A", "")
	iv := h.intervention()

	rejected := false
	h.apply(h.tracker.ApplyInterventionResponse(h.state, iv, domain.InterventionResponse{Approved: &rejected, Comment: "too risky"}))
	assert.Equal(t, domain.StatusFailed, h.state.Status)
	assert.Equal(t, []string{"B"}, h.state.FailedNodes)
	assert.Contains(t, h.state.LastError.Reason, "too risky")

	// Retrying re-opens a fresh intervention.
	h.command(domain.ActionRetry)
	assert.Equal(t, domain.StatusAwaitingInput, h.state.Status)
	assert.NotEqual(t, iv.ID, h.intervention().ID)
}

func TestTracker_ExpiryEscalation(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		h := newHarness(t, approvalFlow())
		h.start()
		h.completed("A", "")
		iv := h.intervention()

		next, _, err := h.tracker.ApplyInterventionExpiry(h.state, iv)
		assert.ErrorIs(t, err, domain.ErrInterventionExpired)
		require.NotNil(t, next)
		h.accept(next, nil)
		assert.Equal(t, domain.StatusFailed, h.state.Status)
		assert.Equal(t, 1, h.state.ErrorCount)
	})

	t.Run("skip", func(t *testing.T) {
		b := dsl.New("approval")
		b.Action("A").Go("B")
		b.Human("B").Escalate(domain.EscalateSkip).Go("C")
		b.Action("C")

		h := newHarness(t, b)
		h.start()
		h.completed("A", "")
		iv := h.intervention()

		h.apply(h.tracker.ApplyInterventionExpiry(h.state, iv))
		assert.Equal(t, domain.StatusRunning, h.state.Status)
		assert.Equal(t, "C", h.state.CurrentNodeID)
		assert.Equal(t, []string{"B"}, h.state.SkippedNodes)
	})

	t.Run("stale intervention", func(t *testing.T) {
		h := newHarness(t, approvalFlow())
		h.start()
		h.completed("A", "")
		iv := h.intervention()
		iv.ID = "other"

		_, _, err := h.tracker.ApplyInterventionExpiry(h.state, iv)
		assert.ErrorIs(t, err, domain.ErrUnexpectedEvent)
	})
}

func TestTracker_SkipCommand(t *testing.T) {
	h := newHarness(t, linearABC())
	h.start()

	_, _, err := h.tracker.ApplyCommand(h.state, domain.ActionSkip, map[string]string{"node": "C"})
	assert.ErrorIs(t, err, domain.ErrUnexpectedEvent)

	h.command(domain.ActionSkip)
	assert.Equal(t, []string{"A"}, h.state.SkippedNodes)
	assert.Equal(t, "B", h.state.CurrentNodeID)
}

func TestTracker_RetryEdgeReentersNode(t *testing.T) {
	b := dsl.New("loop")
	b.Action("fetch").Go("check")
	b.Condition("check").
		Retry("status == 'pending' && attempts < 3", "fetch").
		Go("done")
	b.Terminal("done")

	h := newHarness(t, b)
	h.start()
	h.completed("fetch", `{"status":"pending","attempts":1}`)
	assert.Equal(t, "fetch", h.state.CurrentNodeID)
	assert.NotContains(t, h.state.CompletedNodes, "fetch")

	h.completed("fetch", `{"status":"ready","attempts":2}`)
	assert.Equal(t, domain.StatusCompleted, h.state.Status)
	assert.Equal(t, []string{"check", "done", "fetch"}, h.state.CompletedNodes)
}

func TestTracker_OutputsExtraction(t *testing.T) {
	b := linearABC()
	b.Add("A").Output("receipt", "payment.id")

	h := newHarness(t, b)
	h.start()
	h.completed("A", `{"payment":{"id":"pay_1","amount":10}}`)
	assert.Equal(t, "pay_1", h.state.WorkflowContext["receipt"])
	assert.Contains(t, h.state.WorkflowContext, "payment")
}

func TestTracker_LastUpdatedAtNeverDecreases(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	readings := []time.Time{now, now.Add(-time.Hour), now.Add(-2 * time.Hour), now.Add(-3 * time.Hour)}
	i := 0
	clock := func() time.Time {
		r := readings[i%len(readings)]
		i++
		return r
	}

	h := newHarness(t, linearABC(), runtime.WithClock(clock))
	h.start()
	first := h.state.LastUpdatedAt
	h.completed("A", "")
	h.completed("B", "")
	assert.False(t, h.state.LastUpdatedAt.Before(first))
}

func TestTracker_StartTwice(t *testing.T) {
	h := newHarness(t, linearABC())
	h.start()
	_, _, err := h.tracker.Start(h.state, nil)
	assert.ErrorIs(t, err, domain.ErrUnexpectedEvent)
}

func TestTracker_AbandonGate(t *testing.T) {
	b := dsl.New("gate")
	b.Human("ask").Prompt("Approve?").Go("done")
	b.Action("done")

	h := newHarness(t, b)
	h.start()
	iv := h.intervention()

	next, err := h.tracker.AbandonGate(h.state, "done", fmt.Errorf("down"))
	assert.Nil(t, next)
	assert.NoError(t, err)

	next, err = h.tracker.AbandonGate(h.state, "ask", fmt.Errorf("down"))
	require.NotNil(t, next)
	assert.ErrorIs(t, err, domain.ErrInterventionUnavailable)
	h.accept(next, nil)
	assert.Equal(t, domain.StatusFailed, h.state.Status)
	assert.Nil(t, h.state.Awaiting)
	assert.Equal(t, "intervention_unavailable", h.state.LastError.Code)

	// A retry asks again with a fresh request.
	h.command(domain.ActionRetry)
	assert.Equal(t, domain.StatusAwaitingInput, h.state.Status)
	assert.NotEqual(t, iv.ID, h.intervention().ID)
}
