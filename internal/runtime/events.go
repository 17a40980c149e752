package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/tidwall/gjson"
)

// ApplyEvent applies a step notification from the execution engine.
// Events for any node other than the current one are rejected with ErrUnexpectedEvent.
func (t *Tracker) ApplyEvent(s *domain.ExecutionState, ev domain.EngineEvent) (*domain.ExecutionState, []domain.Effect, error) {
	if err := t.checkActive(s); err != nil {
		return nil, nil, err
	}
	if ev.NodeID == "" || ev.NodeID != s.CurrentNodeID {
		return nil, nil, domain.NewSessionError(domain.ErrUnexpectedEvent, s.SessionID, ev.NodeID,
			fmt.Sprintf("%s for %q while the current node is %q", ev.Type, ev.NodeID, s.CurrentNodeID))
	}
	if s.Status == domain.StatusFailed {
		return nil, nil, t.reject(s, domain.ErrUnexpectedEvent, "session failed; retry or skip first")
	}
	if s.Settled(ev.NodeID) {
		return nil, nil, t.reject(s, domain.ErrUnexpectedEvent, "node already settled")
	}

	_, state, err := t.node(ev.NodeID)
	if err != nil {
		return nil, nil, err
	}
	if state.Policy.Gated() && !s.GatePassed {
		return nil, nil, t.reject(s, domain.ErrUnexpectedEvent, "node is waiting for a human response")
	}

	next := s.Clone()
	var fx effects

	switch ev.Type {
	case domain.EventStepStarted:
		next.StepStarted = true

	case domain.EventStepCompleted:
		if err := t.mergeOutput(next, ev); err != nil {
			return nil, nil, t.reject(s, domain.ErrUnexpectedEvent, err.Error())
		}
		next.MarkCompleted(ev.NodeID)
		err = t.advance(next, ev.NodeID, &fx)

	case domain.EventStepFailed:
		err = t.stepFailed(next, ev, &fx)

	default:
		return nil, nil, t.reject(s, domain.ErrUnexpectedEvent, fmt.Sprintf("unknown event type %q", ev.Type))
	}

	holdPause(s, next)
	return t.commit(s, next, fx, err)
}

// stepFailed re-enters the node while retries remain, then escalates.
func (t *Tracker) stepFailed(next *domain.ExecutionState, ev domain.EngineEvent, fx *effects) error {
	nodeID := ev.NodeID
	cfg := t.config(nodeID)

	if next.NodeFailures == nil {
		next.NodeFailures = make(map[string]int)
	}
	next.NodeFailures[nodeID]++
	next.ErrorCount++

	reason := ev.Error
	if reason == "" {
		reason = "step failed"
	}
	info := domain.NewSessionError(domain.ErrStepFailed, next.SessionID, nodeID, reason).Info()
	info.At = t.clock()
	next.LastError = info

	if next.NodeFailures[nodeID] <= cfg.RetryLimit(t.maxRetries) {
		// Retry: the node stays current and the engine runs it again.
		next.StepStarted = false
		next.History = append(next.History, nodeID)
		t.logger.Debug("step retry scheduled",
			"session_id", next.SessionID,
			"node_id", nodeID,
			"attempt", next.NodeFailures[nodeID],
		)
		return nil
	}

	next.MarkFailed(nodeID)
	if cfg.EscalationPolicy() == domain.EscalateSkip {
		return t.advance(next, nodeID, fx)
	}
	return t.fail(next, domain.ErrStepFailed, nodeID,
		fmt.Sprintf("%s (after %d attempts)", reason, next.NodeFailures[nodeID]))
}

// mergeOutput writes step data into the workflow context. Object payloads are merged
// at the top level; other payloads are stored under the node id. Configured outputs
// are extracted with gjson paths.
func (t *Tracker) mergeOutput(next *domain.ExecutionState, ev domain.EngineEvent) error {
	if len(ev.Data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(ev.Data) {
		return fmt.Errorf("step data is not valid JSON")
	}

	var data any
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return err
	}
	if obj, ok := data.(map[string]any); ok {
		for k, v := range obj {
			next.WorkflowContext[k] = v
		}
	} else if data != nil {
		next.WorkflowContext[ev.NodeID] = data
	}

	for variable, path := range t.config(ev.NodeID).Outputs {
		if r := gjson.GetBytes(ev.Data, path); r.Exists() {
			next.WorkflowContext[variable] = r.Value()
		}
	}
	return nil
}
