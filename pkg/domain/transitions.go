package domain

// Set is a small generic set.
type Set[T comparable] map[T]struct{}

// SetOf builds a set from values.
func SetOf[T comparable](values ...T) Set[T] {
	s := make(Set[T], len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Contains reports whether v is in the set.
func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

// StateTransitions maps states to their set of valid next states.
type StateTransitions[T comparable] map[T]Set[T]

// StatusTransitions is the table of valid execution status changes.
// Self-transitions model retries and events applied while paused.
var StatusTransitions = StateTransitions[ExecutionStatus]{
	StatusIdle: SetOf(
		StatusRunning,
		StatusAwaitingInput,
		StatusCompleted,
		StatusFailed,
		StatusStopped,
	),
	StatusRunning: SetOf(
		StatusRunning,
		StatusAwaitingInput,
		StatusPaused,
		StatusCompleted,
		StatusFailed,
		StatusStopped,
	),
	StatusAwaitingInput: SetOf(
		StatusRunning,
		StatusAwaitingInput,
		StatusPaused,
		StatusCompleted,
		StatusFailed,
		StatusStopped,
	),
	StatusPaused: SetOf(
		StatusRunning,
		StatusAwaitingInput,
		StatusPaused,
		StatusCompleted,
		StatusFailed,
		StatusStopped,
	),
	StatusFailed: SetOf(
		StatusRunning,
		StatusAwaitingInput,
		StatusCompleted,
		StatusFailed,
		StatusStopped,
	),
	StatusCompleted: {},
	StatusStopped:   {},
}

// CanTransition returns whether a transition from one state to another is valid.
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions.
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && len(allowed) == 0
}
