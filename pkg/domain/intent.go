package domain

// Command is a control command recognized in a user utterance.
type Command string

const (
	CommandPause   Command = "pause"
	CommandResume  Command = "resume"
	CommandStop    Command = "stop"
	CommandStatus  Command = "status"
	CommandDebug   Command = "debug"
	CommandSkip    Command = "skip"
	CommandRetry   Command = "retry"
	CommandExplain Command = "explain"
	CommandExport  Command = "export"
	CommandHelp    Command = "help"

	// CommandNone means the utterance is ordinary workflow input.
	CommandNone Command = "none"
)

// Commands is the recognized vocabulary in tie-break order.
var Commands = []Command{
	CommandPause,
	CommandResume,
	CommandStop,
	CommandStatus,
	CommandDebug,
	CommandSkip,
	CommandRetry,
	CommandExplain,
	CommandExport,
	CommandHelp,
}

// Action returns the tracker action a command drives, if any.
// Informational commands (status, explain, ...) have no action.
func (c Command) Action() (Action, bool) {
	switch c {
	case CommandPause:
		return ActionPause, true
	case CommandResume:
		return ActionResume, true
	case CommandStop:
		return ActionStop, true
	case CommandSkip:
		return ActionSkip, true
	case CommandRetry:
		return ActionRetry, true
	}
	return "", false
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is an entry of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Proposed is a command the assistant offered in this message, if any.
	Proposed Command `json:"proposed,omitempty"`
}

// Candidate is a scored command.
type Candidate struct {
	Command    Command `json:"command"`
	Confidence float64 `json:"confidence"`
}

// ResolvedIntent is the classification of an utterance.
type ResolvedIntent struct {
	Command      Command           `json:"command"`
	Confidence   float64           `json:"confidence"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Alternatives []Candidate       `json:"alternatives,omitempty"`
}
