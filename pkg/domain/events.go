package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EngineEventType is the kind of notification emitted by the external execution engine.
type EngineEventType string

const (
	EventStepStarted   EngineEventType = "step_started"
	EventStepCompleted EngineEventType = "step_completed"
	EventStepFailed    EngineEventType = "step_failed"
)

// EngineEvent is a step notification from the execution engine.
type EngineEvent struct {
	Type      EngineEventType `json:"type"`
	NodeID    string          `json:"nodeId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TransitionEvent describes one applied transition.
type TransitionEvent struct {
	SessionID string          `json:"session_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Trigger   string          `json:"trigger"`
	From      ExecutionStatus `json:"from"`
	To        ExecutionStatus `json:"to"`
	Seq       uint64          `json:"seq"`
	Duration  time.Duration   `json:"duration"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnTransition   func(context.Context, *TransitionEvent)
	OnIntervention func(context.Context, *Intervention)
	OnIntent       func(context.Context, string, ResolvedIntent)
	OnRejected     func(context.Context, string, error)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnTransition: func(ctx context.Context, e *TransitionEvent) {
			if h.OnTransition != nil {
				h.OnTransition(ctx, e)
			}
			if other.OnTransition != nil {
				other.OnTransition(ctx, e)
			}
		},
		OnIntervention: func(ctx context.Context, i *Intervention) {
			if h.OnIntervention != nil {
				h.OnIntervention(ctx, i)
			}
			if other.OnIntervention != nil {
				other.OnIntervention(ctx, i)
			}
		},
		OnIntent: func(ctx context.Context, sessionID string, r ResolvedIntent) {
			if h.OnIntent != nil {
				h.OnIntent(ctx, sessionID, r)
			}
			if other.OnIntent != nil {
				other.OnIntent(ctx, sessionID, r)
			}
		},
		OnRejected: func(ctx context.Context, sessionID string, err error) {
			if h.OnRejected != nil {
				h.OnRejected(ctx, sessionID, err)
			}
			if other.OnRejected != nil {
				other.OnRejected(ctx, sessionID, err)
			}
		},
	}
}
