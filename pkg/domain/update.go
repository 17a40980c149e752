package domain

import "time"

// UpdateType classifies outbound updates.
type UpdateType string

const (
	UpdateStateChanged        UpdateType = "state_changed"
	UpdateNeedsIntervention   UpdateType = "needs_intervention"
	UpdateInterventionChanged UpdateType = "intervention_changed"
)

// Update is emitted to subscribers (UIs, SSE clients) on every observable change.
type Update struct {
	ID        string          `json:"id"`
	Type      UpdateType      `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Status    ExecutionStatus `json:"status,omitempty"`

	Diff         *StateDiff    `json:"diff,omitempty"`
	Reply        *Reply        `json:"reply,omitempty"`
	Intervention *Intervention `json:"intervention,omitempty"`
}

// Reply is what the conversational layer renders after each turn.
type Reply struct {
	SessionID        string          `json:"session_id"`
	PromptText       string          `json:"promptText"`
	AvailableActions []Action        `json:"availableActions"`
	Progress         Progress        `json:"progress"`
	Status           ExecutionStatus `json:"status"`
	Intent           *ResolvedIntent `json:"intent,omitempty"`
	Error            *ErrorInfo      `json:"error,omitempty"`

	// NeedsIntervention is set when the run is suspended on an intervention.
	NeedsIntervention *InterventionNotice `json:"needsIntervention,omitempty"`
}

// InterventionNotice is the `{status: needs_intervention, interventionId}` payload.
type InterventionNotice struct {
	Status         string `json:"status"`
	InterventionID string `json:"interventionId"`
}

// NeedsInterventionStatus is the status value of an InterventionNotice.
const NeedsInterventionStatus = "needs_intervention"
