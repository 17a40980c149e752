package domain

import (
	"sort"
	"time"
)

// ExecutionStatus is the lifecycle status of a session's run.
type ExecutionStatus string

const (
	StatusIdle          ExecutionStatus = "idle"
	StatusRunning       ExecutionStatus = "running"
	StatusPaused        ExecutionStatus = "paused"
	StatusAwaitingInput ExecutionStatus = "awaiting-input"
	StatusCompleted     ExecutionStatus = "completed"
	StatusFailed        ExecutionStatus = "failed"
	StatusStopped       ExecutionStatus = "stopped"
)

// Terminal reports whether no further transitions are accepted.
func (s ExecutionStatus) Terminal() bool {
	return StatusTransitions.IsTerminal(s)
}

// Action is a control operation the user may invoke on a run.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionRetry  Action = "retry"
	ActionSkip   Action = "skip"
	ActionStop   Action = "stop"
)

// InputKind describes what kind of reply a suspended node expects.
type InputKind string

const (
	InputConfirmation InputKind = "confirmation"
	InputApproval     InputKind = "approval"
	InputData         InputKind = "data-input"
	InputDecision     InputKind = "decision"
)

// AwaitedInput describes the reply the run is suspended on.
type AwaitedInput struct {
	Kind           InputKind    `json:"kind"`
	NodeID         string       `json:"node_id"`
	Slot           string       `json:"slot,omitempty"`
	SlotType       VariableType `json:"slot_type,omitempty"`
	Choices        []string     `json:"choices,omitempty"`
	Prompt         string       `json:"prompt,omitempty"`
	InterventionID string       `json:"intervention_id,omitempty"`
}

// ErrorInfo is the last error recorded on a session, kept for display.
type ErrorInfo struct {
	Code      string    `json:"code"`
	NodeID    string    `json:"node_id,omitempty"`
	Reason    string    `json:"reason"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}

// ExecutionState is the live, per-session progress through a journey.
// It is mutated only by the tracker's transition functions.
type ExecutionState struct {
	SessionID      string          `json:"session_id"`
	WorkflowID     string          `json:"workflow_id"`
	JourneyID      string          `json:"journey_id"`
	MappingVersion int             `json:"mapping_version"`
	Status         ExecutionStatus `json:"status"`

	// CurrentNodeID is the active node. Empty before start and after completion.
	CurrentNodeID string `json:"current_node_id,omitempty"`

	// Sorted, mutually exclusive node sets.
	CompletedNodes []string `json:"completed_nodes"`
	FailedNodes    []string `json:"failed_nodes"`
	SkippedNodes   []string `json:"skipped_nodes"`
	TotalNodes     int      `json:"total_nodes"`

	WorkflowContext map[string]any `json:"workflow_context"`
	JourneyContext  map[string]any `json:"journey_context"`
	UserInputs      map[string]any `json:"user_inputs"`

	StartedAt     time.Time `json:"started_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`

	AwaitingUserInput bool          `json:"awaiting_user_input"`
	Awaiting          *AwaitedInput `json:"awaiting,omitempty"`

	// GatePassed records that the current node's confirmation or approval was granted.
	GatePassed bool `json:"gate_passed,omitempty"`

	// StepStarted records a step_started event for the current node.
	StepStarted bool `json:"step_started,omitempty"`

	// Choices holds the decision taken at a node (node id -> intent name).
	Choices map[string]string `json:"choices,omitempty"`

	AvailableActions []Action `json:"available_actions"`
	ErrorCount       int      `json:"error_count"`

	// NodeFailures counts step failures per node for the retry bound.
	NodeFailures map[string]int `json:"node_failures,omitempty"`

	History   []string   `json:"history"`
	LastError *ErrorInfo `json:"last_error,omitempty"`

	// Seq increments on every applied transition.
	Seq uint64 `json:"seq"`
}

// NewExecutionState creates an idle state for a session bound to a journey.
func NewExecutionState(sessionID string, journey *JourneyDefinition, totalNodes int) *ExecutionState {
	s := &ExecutionState{
		SessionID:       sessionID,
		Status:          StatusIdle,
		TotalNodes:      totalNodes,
		CompletedNodes:  []string{},
		FailedNodes:     []string{},
		SkippedNodes:    []string{},
		WorkflowContext: make(map[string]any),
		JourneyContext:  make(map[string]any),
		UserInputs:      make(map[string]any),
		History:         []string{},
	}
	if journey != nil {
		s.WorkflowID = journey.WorkflowID
		s.JourneyID = journey.JourneyID
		s.MappingVersion = journey.MappingVersion
	}
	s.AvailableActions = AvailableActions(s)
	return s
}

// Clone returns a deep copy of the state.
func (s *ExecutionState) Clone() *ExecutionState {
	if s == nil {
		return nil
	}
	c := *s
	c.CompletedNodes = append([]string{}, s.CompletedNodes...)
	c.FailedNodes = append([]string{}, s.FailedNodes...)
	c.SkippedNodes = append([]string{}, s.SkippedNodes...)
	c.History = append([]string{}, s.History...)
	c.AvailableActions = append([]Action{}, s.AvailableActions...)
	c.WorkflowContext = CopyMap(s.WorkflowContext)
	c.JourneyContext = CopyMap(s.JourneyContext)
	c.UserInputs = CopyMap(s.UserInputs)

	if s.Choices != nil {
		c.Choices = make(map[string]string, len(s.Choices))
		for k, v := range s.Choices {
			c.Choices[k] = v
		}
	}
	if s.NodeFailures != nil {
		c.NodeFailures = make(map[string]int, len(s.NodeFailures))
		for k, v := range s.NodeFailures {
			c.NodeFailures[k] = v
		}
	}
	if s.Awaiting != nil {
		a := *s.Awaiting
		a.Choices = append([]string(nil), s.Awaiting.Choices...)
		c.Awaiting = &a
	}
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	return &c
}

// Terminal reports whether the session accepts no more transitions.
func (s *ExecutionState) Terminal() bool {
	return s.Status.Terminal()
}

// Can reports whether action is currently available.
func (s *ExecutionState) Can(action Action) bool {
	for _, a := range s.AvailableActions {
		if a == action {
			return true
		}
	}
	return false
}

// Settled reports whether the node is in one of the completed, failed or skipped sets.
func (s *ExecutionState) Settled(nodeID string) bool {
	return containsID(s.CompletedNodes, nodeID) ||
		containsID(s.FailedNodes, nodeID) ||
		containsID(s.SkippedNodes, nodeID)
}

// MarkCompleted moves nodeID into the completed set.
func (s *ExecutionState) MarkCompleted(nodeID string) {
	s.Unsettle(nodeID)
	s.CompletedNodes = insertID(s.CompletedNodes, nodeID)
}

// MarkFailed moves nodeID into the failed set.
func (s *ExecutionState) MarkFailed(nodeID string) {
	s.Unsettle(nodeID)
	s.FailedNodes = insertID(s.FailedNodes, nodeID)
}

// MarkSkipped moves nodeID into the skipped set.
func (s *ExecutionState) MarkSkipped(nodeID string) {
	s.Unsettle(nodeID)
	s.SkippedNodes = insertID(s.SkippedNodes, nodeID)
}

// Unsettle removes nodeID from every terminal set, making it pending again.
func (s *ExecutionState) Unsettle(nodeID string) {
	s.CompletedNodes = removeID(s.CompletedNodes, nodeID)
	s.FailedNodes = removeID(s.FailedNodes, nodeID)
	s.SkippedNodes = removeID(s.SkippedNodes, nodeID)
}

// Progress summarizes how far the run has advanced.
type Progress struct {
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Progress computes the progress summary.
func (s *ExecutionState) Progress() Progress {
	p := Progress{
		Completed: len(s.CompletedNodes),
		Failed:    len(s.FailedNodes),
		Skipped:   len(s.SkippedNodes),
		Total:     s.TotalNodes,
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed+p.Failed+p.Skipped) * 100 / float64(p.Total)
	}
	return p
}

// AvailableActions derives the control actions valid from the state.
func AvailableActions(s *ExecutionState) []Action {
	switch s.Status {
	case StatusIdle:
		return []Action{ActionStop}
	case StatusRunning, StatusAwaitingInput:
		return []Action{ActionPause, ActionSkip, ActionStop}
	case StatusPaused:
		return []Action{ActionResume, ActionStop}
	case StatusFailed:
		if s.CurrentNodeID != "" {
			return []Action{ActionRetry, ActionSkip, ActionStop}
		}
		return []Action{ActionStop}
	default:
		return []Action{}
	}
}

// CopyMap returns a copy of m, descending into nested maps and slices.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func containsID(ids []string, id string) bool {
	i := sort.SearchStrings(ids, id)
	return i < len(ids) && ids[i] == id
}

func insertID(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeID(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return append(ids[:i], ids[i+1:]...)
	}
	return ids
}
