package domain

import (
	"reflect"
)

// StateDiff represents the changes between two execution states.
// It is designed to be serialized to JSON for partial updates on the client.
type StateDiff struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`

	Status        *ExecutionStatus `json:"status,omitempty"`
	CurrentNodeID *string          `json:"current_node_id,omitempty"`

	Completed *NodeSetDelta `json:"completed,omitempty"`
	Failed    *NodeSetDelta `json:"failed,omitempty"`
	Skipped   *NodeSetDelta `json:"skipped,omitempty"`

	// Context deltas contain only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	WorkflowContext map[string]any `json:"workflow_context,omitempty"`
	JourneyContext  map[string]any `json:"journey_context,omitempty"`
	UserInputs      map[string]any `json:"user_inputs,omitempty"`

	AwaitingUserInput *bool     `json:"awaiting_user_input,omitempty"`
	AvailableActions  *[]Action `json:"available_actions,omitempty"`
	ErrorCount        *int      `json:"error_count,omitempty"`

	// History contains node ids appended since the old state.
	History []string `json:"history,omitempty"`
}

// NodeSetDelta lists ids that entered or left a node set.
type NodeSetDelta struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, it returns a diff representing the entire newState (initial load).
// It returns nil when nothing observable changed.
func Diff(oldState, newState *ExecutionState) *StateDiff {
	if newState == nil {
		return nil
	}

	diff := &StateDiff{
		SessionID: newState.SessionID,
		Seq:       newState.Seq,
	}

	if oldState == nil || oldState.Status != newState.Status {
		diff.Status = &newState.Status
	}
	if oldState == nil || oldState.CurrentNodeID != newState.CurrentNodeID {
		diff.CurrentNodeID = &newState.CurrentNodeID
	}
	if oldState == nil || oldState.AwaitingUserInput != newState.AwaitingUserInput {
		diff.AwaitingUserInput = &newState.AwaitingUserInput
	}
	if oldState == nil || !reflect.DeepEqual(oldState.AvailableActions, newState.AvailableActions) {
		actions := newState.AvailableActions
		diff.AvailableActions = &actions
	}
	if oldState == nil || oldState.ErrorCount != newState.ErrorCount {
		diff.ErrorCount = &newState.ErrorCount
	}

	var old ExecutionState
	if oldState != nil {
		old = *oldState
	}

	diff.Completed = diffSet(old.CompletedNodes, newState.CompletedNodes)
	diff.Failed = diffSet(old.FailedNodes, newState.FailedNodes)
	diff.Skipped = diffSet(old.SkippedNodes, newState.SkippedNodes)

	diff.WorkflowContext = diffContext(old.WorkflowContext, newState.WorkflowContext)
	diff.JourneyContext = diffContext(old.JourneyContext, newState.JourneyContext)
	diff.UserInputs = diffContext(old.UserInputs, newState.UserInputs)

	if len(newState.History) > len(old.History) {
		diff.History = newState.History[len(old.History):]
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffContext(old, new map[string]any) map[string]any {
	delta := make(map[string]any)

	// Check for Added or Modified
	for k, newVal := range new {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}

	// Check for Deletions
	for k := range old {
		if _, exists := new[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// diffSet compares two sorted id sets.
func diffSet(old, new []string) *NodeSetDelta {
	d := &NodeSetDelta{}
	for _, id := range new {
		if !containsID(old, id) {
			d.Added = append(d.Added, id)
		}
	}
	for _, id := range old {
		if !containsID(new, id) {
			d.Removed = append(d.Removed, id)
		}
	}
	if len(d.Added) == 0 && len(d.Removed) == 0 {
		return nil
	}
	return d
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return d.Status == nil &&
		d.CurrentNodeID == nil &&
		d.Completed == nil &&
		d.Failed == nil &&
		d.Skipped == nil &&
		len(d.WorkflowContext) == 0 &&
		len(d.JourneyContext) == 0 &&
		len(d.UserInputs) == 0 &&
		d.AwaitingUserInput == nil &&
		d.AvailableActions == nil &&
		d.ErrorCount == nil &&
		len(d.History) == 0
}
