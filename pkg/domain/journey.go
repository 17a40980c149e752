package domain

import (
	"fmt"
	"strings"
)

// Policy governs whether execution pauses when a node becomes active.
type Policy string

const (
	PolicyAuto                  Policy = "auto"
	PolicyRequiresConfirmation  Policy = "requires-confirmation"
	PolicyRequiresHumanApproval Policy = "requires-human-approval"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyAuto, PolicyRequiresConfirmation, PolicyRequiresHumanApproval:
		return true
	}
	return false
}

// Gated reports whether the policy suspends the run for a response.
func (p Policy) Gated() bool {
	return p == PolicyRequiresConfirmation || p == PolicyRequiresHumanApproval
}

// TriggerKind enumerates what fires a conversational transition.
type TriggerKind string

const (
	TriggerAutomatic   TriggerKind = "automatic"
	TriggerOnIntent    TriggerKind = "on-intent"
	TriggerOnCondition TriggerKind = "on-condition"
)

// Trigger is the transition trigger. It serializes as "automatic", "on-condition" or "on-intent:<name>".
type Trigger struct {
	Kind   TriggerKind
	Intent string
}

// String renders the trigger in its wire form.
func (t Trigger) String() string {
	if t.Kind == TriggerOnIntent {
		return string(TriggerOnIntent) + ":" + t.Intent
	}
	return string(t.Kind)
}

// MarshalText implements encoding.TextMarshaler.
func (t Trigger) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Trigger) UnmarshalText(text []byte) error {
	s := string(text)
	switch {
	case s == string(TriggerAutomatic):
		*t = Trigger{Kind: TriggerAutomatic}
	case s == string(TriggerOnCondition):
		*t = Trigger{Kind: TriggerOnCondition}
	case strings.HasPrefix(s, string(TriggerOnIntent)+":"):
		*t = Trigger{Kind: TriggerOnIntent, Intent: strings.TrimPrefix(s, string(TriggerOnIntent)+":")}
	default:
		return fmt.Errorf("unknown trigger %q", s)
	}
	return nil
}

// StateMapping maps a workflow node onto a conversational state.
type StateMapping struct {
	NodeID  string   `json:"node_id"`
	StateID string   `json:"state_id"`
	Kind    NodeKind `json:"kind"`
	Prompt  string   `json:"prompt"`
	Policy  Policy   `json:"policy"`

	// Decision is set for condition nodes whose transitions are all on-condition.
	Decision bool `json:"decision,omitempty"`
	Final    bool `json:"final,omitempty"`
}

// TransitionMapping maps a workflow edge onto a conversational transition.
type TransitionMapping struct {
	EdgeID       string  `json:"edge_id"`
	TransitionID string  `json:"transition_id"`
	FromState    string  `json:"from_state"`
	ToState      string  `json:"to_state"`
	Trigger      Trigger `json:"trigger"`
	Guard        string  `json:"guard,omitempty"`
	Retry        bool    `json:"retry,omitempty"`
}

// VariableType is the conversational representation of a workflow variable.
type VariableType string

const (
	VarString  VariableType = "string"
	VarNumber  VariableType = "number"
	VarInteger VariableType = "integer"
	VarBoolean VariableType = "boolean"
	VarDate    VariableType = "date"
	VarEnum    VariableType = "enum"
	VarList    VariableType = "list"
	VarObject  VariableType = "object"
)

// VariableMapping binds a workflow variable to a conversational slot.
type VariableMapping struct {
	NodeID   string       `json:"node_id"`
	Variable string       `json:"variable"`
	Slot     string       `json:"slot"`
	Type     VariableType `json:"type"`
	Default  any          `json:"default,omitempty"`
	Options  []string     `json:"options,omitempty"`
}

// JourneyDefinition is the derived conversational state machine of a workflow.
// It is immutable once built; a changed graph produces a new definition with a higher MappingVersion.
type JourneyDefinition struct {
	JourneyID      string `json:"journey_id"`
	WorkflowID     string `json:"workflow_id"`
	MappingVersion int    `json:"mapping_version"`
	Fingerprint    string `json:"fingerprint"`
	EntryNodeID    string `json:"entry_node_id"`

	NodeStates       []StateMapping      `json:"node_state_mappings"`
	EdgeTransitions  []TransitionMapping `json:"edge_transition_mappings"`
	ContextVariables []VariableMapping   `json:"context_variable_mappings"`
}

// State returns the state mapping for a node.
func (j *JourneyDefinition) State(nodeID string) (StateMapping, bool) {
	for _, s := range j.NodeStates {
		if s.NodeID == nodeID {
			return s, true
		}
	}
	return StateMapping{}, false
}

// Transition returns the transition mapping for an edge.
func (j *JourneyDefinition) Transition(edgeID string) (TransitionMapping, bool) {
	for _, t := range j.EdgeTransitions {
		if t.EdgeID == edgeID {
			return t, true
		}
	}
	return TransitionMapping{}, false
}

// Variables returns the variable mappings that belong to a node.
func (j *JourneyDefinition) Variables(nodeID string) []VariableMapping {
	var out []VariableMapping
	for _, v := range j.ContextVariables {
		if v.NodeID == nodeID {
			out = append(out, v)
		}
	}
	return out
}

// Slot returns the mapping for a node variable.
func (j *JourneyDefinition) Slot(nodeID, variable string) (VariableMapping, bool) {
	for _, v := range j.ContextVariables {
		if v.NodeID == nodeID && v.Variable == variable {
			return v, true
		}
	}
	return VariableMapping{}, false
}

// Journey pairs a graph snapshot with the definition mapped from it.
// Both are shared read-only by every session of the workflow.
type Journey struct {
	Graph      *Graph             `json:"graph"`
	Definition *JourneyDefinition `json:"definition"`
}
