package domain

import "time"

// InterventionType is the kind of human response an intervention asks for.
type InterventionType string

const (
	InterventionApproval  InterventionType = "approval"
	InterventionDataInput InterventionType = "data-input"
	InterventionDecision  InterventionType = "decision"
)

// Valid reports whether t is a known intervention type.
func (t InterventionType) Valid() bool {
	switch t {
	case InterventionApproval, InterventionDataInput, InterventionDecision:
		return true
	}
	return false
}

// InterventionStatus is the lifecycle status of an intervention request.
type InterventionStatus string

const (
	InterventionPending   InterventionStatus = "pending"
	InterventionResponded InterventionStatus = "responded"
	InterventionExpired   InterventionStatus = "expired"
	// InterventionCancelled marks a request withdrawn because the run moved on (stop, skip).
	InterventionCancelled InterventionStatus = "cancelled"
)

// InterventionResponse is the human answer to an intervention.
// Approved is read for approvals, Value for data input, Choice for decisions.
type InterventionResponse struct {
	Approved  *bool  `json:"approved,omitempty"`
	Value     any    `json:"value,omitempty"`
	Choice    string `json:"choice,omitempty"`
	Responder string `json:"responder,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// Intervention is a suspension point that needs a human response.
type Intervention struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"session_id"`
	WorkflowID string             `json:"workflow_id,omitempty"`
	NodeID     string             `json:"node_id"`
	Type       InterventionType   `json:"type"`
	Status     InterventionStatus `json:"status"`
	Prompt     string             `json:"prompt,omitempty"`
	Payload    map[string]any     `json:"payload,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	Response *InterventionResponse `json:"response,omitempty"`
}

// Pending reports whether the intervention still awaits a response.
func (i *Intervention) Pending() bool {
	return i.Status == InterventionPending
}

// Due reports whether a pending intervention is past its deadline at now.
func (i *Intervention) Due(now time.Time) bool {
	return i.Pending() && !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Clone returns a deep copy of the intervention.
func (i *Intervention) Clone() *Intervention {
	if i == nil {
		return nil
	}
	c := *i
	c.Payload = CopyMap(i.Payload)
	if i.RespondedAt != nil {
		t := *i.RespondedAt
		c.RespondedAt = &t
	}
	if i.Response != nil {
		r := *i.Response
		if i.Response.Approved != nil {
			a := *i.Response.Approved
			r.Approved = &a
		}
		c.Response = &r
	}
	return &c
}
