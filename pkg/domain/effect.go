package domain

import "time"

// EffectKind names a side effect requested by a state transition.
type EffectKind string

const (
	// EffectOpenIntervention asks the coordinator to open a request for the node.
	EffectOpenIntervention EffectKind = "open_intervention"
	// EffectCloseIntervention withdraws a pending request the run no longer waits on.
	EffectCloseIntervention EffectKind = "close_intervention"
)

// Effect is emitted by the tracker and carried out by the engine after the state is saved.
type Effect struct {
	Kind             EffectKind       `json:"kind"`
	NodeID           string           `json:"node_id"`
	InterventionID   string           `json:"intervention_id"`
	InterventionType InterventionType `json:"intervention_type,omitempty"`
	Prompt           string           `json:"prompt,omitempty"`
	Payload          map[string]any   `json:"payload,omitempty"`
	Timeout          time.Duration    `json:"timeout,omitempty"`
}
