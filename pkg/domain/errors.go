package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrWorkflowNotFound is returned when a graph loader has no workflow with the given ID.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Mapping errors. None of them is retryable.
var (
	ErrEmptyGraph         = errors.New("graph has no entry node")
	ErrCyclicGraph        = errors.New("graph contains a cycle outside retry edges")
	ErrInvalidGraph       = errors.New("invalid graph")
	ErrUnmappableVariable = errors.New("variable type has no conversational representation")
)

// Runtime session errors.
var (
	ErrNoMatchingTransition         = errors.New("no matching transition")
	ErrAlreadyTerminal              = errors.New("session already terminal")
	ErrInputMismatch                = errors.New("input does not match the expected reply")
	ErrDuplicatePendingIntervention = errors.New("intervention already pending for node")
	ErrNotFound                     = errors.New("not found")
	ErrAlreadyResponded             = errors.New("intervention already responded")
	ErrUnexpectedEvent              = errors.New("event does not apply to the current state")
	ErrCommandUnavailable           = errors.New("command not available in the current state")
	ErrStepFailed                   = errors.New("step failed")
	ErrInterventionExpired          = errors.New("intervention expired")
	ErrInterventionRejected         = errors.New("intervention rejected")
	ErrInterventionUnavailable      = errors.New("intervention could not be opened")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrEmptyGraph, "empty_graph"},
	{ErrCyclicGraph, "cyclic_graph"},
	{ErrInvalidGraph, "invalid_graph"},
	{ErrUnmappableVariable, "unmappable_variable"},
	{ErrNoMatchingTransition, "no_matching_transition"},
	{ErrAlreadyTerminal, "already_terminal"},
	{ErrInputMismatch, "input_mismatch"},
	{ErrDuplicatePendingIntervention, "duplicate_pending_intervention"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyResponded, "already_responded"},
	{ErrUnexpectedEvent, "unexpected_event"},
	{ErrCommandUnavailable, "command_unavailable"},
	{ErrStepFailed, "step_failed"},
	{ErrInterventionExpired, "intervention_expired"},
	{ErrInterventionRejected, "intervention_rejected"},
	{ErrInterventionUnavailable, "intervention_unavailable"},
	{ErrSessionNotFound, "session_not_found"},
	{ErrWorkflowNotFound, "workflow_not_found"},
}

// ErrorCode returns a stable code for the first known sentinel in err's chain.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsRetryable reports whether the caller may simply retry (re-prompt) after err.
// Only input mismatches are retryable; everything else is final for the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInputMismatch)
}

// CyclicGraphError reports the nodes that sit on a cycle not closed by a retry edge.
type CyclicGraphError struct {
	WorkflowID string
	Nodes      []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("workflow %q: %v: %s", e.WorkflowID, ErrCyclicGraph, strings.Join(e.Nodes, ", "))
}

func (e *CyclicGraphError) Is(target error) bool {
	return target == ErrCyclicGraph
}

// UnmappableVariableError reports a variable whose type cannot be asked for in a conversation.
type UnmappableVariableError struct {
	NodeID   string
	Variable string
	Type     string
}

func (e *UnmappableVariableError) Error() string {
	return fmt.Sprintf("node %q variable %q of type %q: %v", e.NodeID, e.Variable, e.Type, ErrUnmappableVariable)
}

func (e *UnmappableVariableError) Is(target error) bool {
	return target == ErrUnmappableVariable
}

// InvalidGraphError aggregates structural problems found in a graph.
type InvalidGraphError struct {
	WorkflowID string
	Problems   []string
}

func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("workflow %q: %v: %s", e.WorkflowID, ErrInvalidGraph, strings.Join(e.Problems, "; "))
}

func (e *InvalidGraphError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// SessionError carries the context needed to explain a runtime failure to the user.
type SessionError struct {
	Kind      error
	SessionID string
	NodeID    string
	Reason    string
	Cause     error
}

// NewSessionError builds a SessionError of the given kind.
func NewSessionError(kind error, sessionID, nodeID, reason string) *SessionError {
	return &SessionError{Kind: kind, SessionID: sessionID, NodeID: nodeID, Reason: reason}
}

// WithCause attaches an underlying error.
func (e *SessionError) WithCause(cause error) *SessionError {
	e.Cause = cause
	return e
}

func (e *SessionError) Error() string {
	var b strings.Builder
	b.WriteString("session ")
	b.WriteString(e.SessionID)
	if e.NodeID != "" {
		b.WriteString(" node ")
		b.WriteString(e.NodeID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *SessionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Retryable reports the retryable tag of the error kind.
func (e *SessionError) Retryable() bool {
	return IsRetryable(e.Kind)
}

// Info converts the error into the ErrorInfo stored on the session.
func (e *SessionError) Info() *ErrorInfo {
	return &ErrorInfo{
		Code:      ErrorCode(e.Kind),
		NodeID:    e.NodeID,
		Reason:    e.Reason,
		Retryable: e.Retryable(),
	}
}
