package runtime

import (
	"fmt"
	"time"

	"github.com/aretw0/journey/pkg/domain"
)

// checkIntervention rejects responses for interventions the run is no longer waiting on.
func (t *Tracker) checkIntervention(s *domain.ExecutionState, iv *domain.Intervention) error {
	if err := t.checkActive(s); err != nil {
		return err
	}
	if iv.SessionID != s.SessionID || iv.NodeID != s.CurrentNodeID ||
		s.Awaiting == nil || s.Awaiting.InterventionID != iv.ID {
		return domain.NewSessionError(domain.ErrUnexpectedEvent, s.SessionID, iv.NodeID,
			fmt.Sprintf("intervention %s is not the one the session waits on", iv.ID))
	}
	return nil
}

// ApplyInterventionResponse applies a human answer to the gated current node.
func (t *Tracker) ApplyInterventionResponse(s *domain.ExecutionState, iv *domain.Intervention, resp domain.InterventionResponse) (*domain.ExecutionState, []domain.Effect, error) {
	if err := t.checkIntervention(s, iv); err != nil {
		return nil, nil, err
	}

	next := s.Clone()
	var fx effects
	var err error
	nodeID := iv.NodeID

	pass := func() {
		next.GatePassed = true
		next.Awaiting = nil
		next.Status = domain.StatusRunning
	}

	switch iv.Type {
	case domain.InterventionApproval:
		if resp.Approved == nil {
			return nil, nil, t.reject(s, domain.ErrInputMismatch, "approval needs an approve or reject answer")
		}
		if *resp.Approved {
			pass()
			break
		}

		next.Awaiting = nil
		reason := "approval rejected"
		if resp.Comment != "" {
			reason += ": " + resp.Comment
		}
		if t.config(nodeID).RejectPolicy() == domain.EscalateSkip {
			next.MarkSkipped(nodeID)
			err = t.advance(next, nodeID, &fx)
			break
		}
		next.ErrorCount++
		next.MarkFailed(nodeID)
		err = t.fail(next, domain.ErrInterventionRejected, nodeID, reason)

	case domain.InterventionDataInput:
		slot, slotType, options := s.Awaiting.Slot, s.Awaiting.SlotType, s.Awaiting.Choices
		if slot == "" {
			slot = nodeID
		}
		value, cerr := Coerce(resp.Value, slotType, options)
		if cerr != nil {
			return nil, nil, t.reject(s, domain.ErrInputMismatch, cerr.Error())
		}
		next.UserInputs[slot] = value
		pass()

	case domain.InterventionDecision:
		choice, ok := t.matchChoice(nodeID, resp.Choice)
		if !ok {
			return nil, nil, t.reject(s, domain.ErrInputMismatch, fmt.Sprintf("%q is not a choice of %s", resp.Choice, nodeID))
		}
		if next.Choices == nil {
			next.Choices = make(map[string]string)
		}
		next.Choices[nodeID] = choice
		pass()

	default:
		return nil, nil, t.reject(s, domain.ErrInputMismatch, fmt.Sprintf("unknown intervention type %q", iv.Type))
	}

	holdPause(s, next)
	return t.commit(s, next, fx, err)
}

// ApplyInterventionExpiry runs the node's escalation policy for an unanswered intervention.
func (t *Tracker) ApplyInterventionExpiry(s *domain.ExecutionState, iv *domain.Intervention) (*domain.ExecutionState, []domain.Effect, error) {
	if err := t.checkIntervention(s, iv); err != nil {
		return nil, nil, err
	}

	next := s.Clone()
	var fx effects
	var err error
	nodeID := iv.NodeID

	next.Awaiting = nil
	next.ErrorCount++
	info := domain.NewSessionError(domain.ErrInterventionExpired, next.SessionID, nodeID, "no response before "+iv.ExpiresAt.UTC().Format(time.RFC3339)).Info()
	info.At = t.clock()
	next.LastError = info

	if t.config(nodeID).EscalationPolicy() == domain.EscalateSkip {
		next.MarkSkipped(nodeID)
		err = t.advance(next, nodeID, &fx)
	} else {
		next.MarkFailed(nodeID)
		err = t.fail(next, domain.ErrInterventionExpired, nodeID, info.Reason)
	}

	holdPause(s, next)
	return t.commit(s, next, fx, err)
}

// AbandonGate fails the session when the intervention guarding nodeID could not be
// opened, so the run never waits on a request nothing can answer. A retry re-enters
// the node and opens a new request. It returns a nil state when the session no longer
// waits on that node.
func (t *Tracker) AbandonGate(s *domain.ExecutionState, nodeID string, cause error) (*domain.ExecutionState, error) {
	if s.Terminal() || s.Awaiting == nil || s.Awaiting.NodeID != nodeID || s.Awaiting.InterventionID == "" {
		return nil, nil
	}
	next := s.Clone()
	err := t.fail(next, domain.ErrInterventionUnavailable, nodeID, "the intervention could not be opened").WithCause(cause)
	next, _, cerr := t.commit(s, next, effects{}, err)
	return next, cerr
}
