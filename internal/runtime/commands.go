package runtime

import (
	"fmt"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
)

// ApplyCommand applies a control action. A repeated stop is a no-op and returns a nil state.
func (t *Tracker) ApplyCommand(s *domain.ExecutionState, action domain.Action, params map[string]string) (*domain.ExecutionState, []domain.Effect, error) {
	if action == domain.ActionStop && s.Status == domain.StatusStopped {
		return nil, nil, nil
	}
	if s.Terminal() {
		return nil, nil, t.reject(s, domain.ErrAlreadyTerminal, string(s.Status))
	}
	if !s.Can(action) {
		return nil, nil, t.reject(s, domain.ErrCommandUnavailable,
			fmt.Sprintf("%s is not available while %s", action, s.Status))
	}
	if target := params["node"]; target != "" && target != s.CurrentNodeID &&
		(action == domain.ActionSkip || action == domain.ActionRetry) {
		return nil, nil, t.reject(s, domain.ErrUnexpectedEvent,
			fmt.Sprintf("%s targets %q but the current node is %q", action, target, s.CurrentNodeID))
	}

	next := s.Clone()
	var fx effects
	var err error

	switch action {
	case domain.ActionPause:
		next.Status = domain.StatusPaused

	case domain.ActionResume:
		next.Status = domain.StatusRunning
		if next.Awaiting != nil {
			next.Status = domain.StatusAwaitingInput
		}

	case domain.ActionStop:
		t.closeGate(next, &fx)
		next.Status = domain.StatusStopped

	case domain.ActionSkip:
		err = t.skip(next, &fx)

	case domain.ActionRetry:
		nodeID := next.CurrentNodeID
		delete(next.NodeFailures, nodeID)
		next.LastError = nil
		err = t.enter(next, nodeID, &fx)

	default:
		return nil, nil, t.reject(s, domain.ErrCommandUnavailable, fmt.Sprintf("unknown action %q", action))
	}

	return t.commit(s, next, fx, err)
}

// skip settles the current node as skipped and moves on.
// At a pending decision the first choice is taken.
func (t *Tracker) skip(next *domain.ExecutionState, fx *effects) error {
	nodeID := next.CurrentNodeID

	if next.Awaiting != nil && next.Awaiting.Kind == domain.InputDecision && next.Settled(nodeID) {
		if len(next.Awaiting.Choices) > 0 {
			if next.Choices == nil {
				next.Choices = make(map[string]string)
			}
			next.Choices[nodeID] = next.Awaiting.Choices[0]
		}
		next.Awaiting = nil
		return t.advance(next, nodeID, fx)
	}

	t.closeGate(next, fx)
	next.MarkSkipped(nodeID)
	next.LastError = nil
	return t.advance(next, nodeID, fx)
}

// ApplyInput applies a chat reply to a confirmation or a pending route decision.
// Replies that do not fit leave the state unchanged and return ErrInputMismatch.
// Human-input nodes are answered through their intervention instead.
func (t *Tracker) ApplyInput(s *domain.ExecutionState, value any) (*domain.ExecutionState, []domain.Effect, error) {
	if err := t.checkActive(s); err != nil {
		return nil, nil, err
	}
	if s.Status != domain.StatusAwaitingInput || s.Awaiting == nil {
		return nil, nil, t.reject(s, domain.ErrUnexpectedEvent, "no reply is expected")
	}

	awaiting := s.Awaiting
	if awaiting.InterventionID != "" {
		return nil, nil, t.reject(s, domain.ErrInputMismatch, "answer the pending intervention "+awaiting.InterventionID)
	}

	next := s.Clone()
	var fx effects
	var err error

	switch awaiting.Kind {
	case domain.InputConfirmation:
		yes, ok := ParseConfirmation(value)
		if !ok {
			return nil, nil, t.reject(s, domain.ErrInputMismatch, "please answer yes or no")
		}
		next.Awaiting = nil
		if yes {
			next.GatePassed = true
			next.Status = domain.StatusRunning
		} else {
			next.MarkSkipped(next.CurrentNodeID)
			err = t.advance(next, next.CurrentNodeID, &fx)
		}

	case domain.InputDecision:
		reply, _ := value.(string)
		choice, ok := t.matchChoice(awaiting.NodeID, reply)
		if !ok {
			return nil, nil, t.reject(s, domain.ErrInputMismatch,
				"choose one of: "+strings.Join(awaiting.Choices, ", "))
		}
		if next.Choices == nil {
			next.Choices = make(map[string]string)
		}
		next.Choices[awaiting.NodeID] = choice
		next.Awaiting = nil
		err = t.advance(next, awaiting.NodeID, &fx)

	default:
		return nil, nil, t.reject(s, domain.ErrInputMismatch, fmt.Sprintf("unexpected %s reply", awaiting.Kind))
	}

	return t.commit(s, next, fx, err)
}

// Expects reports whether value is a valid chat reply to the prompt the session waits on.
func (t *Tracker) Expects(s *domain.ExecutionState, value string) bool {
	if s == nil || s.Status != domain.StatusAwaitingInput || s.Awaiting == nil || s.Awaiting.InterventionID != "" {
		return false
	}
	switch s.Awaiting.Kind {
	case domain.InputConfirmation:
		_, ok := ParseConfirmation(value)
		return ok
	case domain.InputDecision:
		_, ok := t.matchChoice(s.Awaiting.NodeID, value)
		return ok
	}
	return false
}
