package journey

import (
	"fmt"
	"strings"

	"github.com/aretw0/journey/internal/runtime"
	"github.com/aretw0/journey/pkg/domain"
)

// reply renders what the conversational layer shows after a turn.
func (e *Engine) reply(j *domain.Journey, s *domain.ExecutionState) *domain.Reply {
	r := &domain.Reply{
		SessionID:        s.SessionID,
		PromptText:       promptText(j, s),
		AvailableActions: append([]domain.Action{}, s.AvailableActions...),
		Progress:         s.Progress(),
		Status:           s.Status,
	}
	if s.Status == domain.StatusFailed && s.LastError != nil {
		info := *s.LastError
		r.Error = &info
	}
	if s.Awaiting != nil && s.Awaiting.InterventionID != "" && s.Status == domain.StatusAwaitingInput {
		r.NeedsIntervention = &domain.InterventionNotice{
			Status:         domain.NeedsInterventionStatus,
			InterventionID: s.Awaiting.InterventionID,
		}
	}
	return r
}

func promptText(j *domain.Journey, s *domain.ExecutionState) string {
	switch s.Status {
	case domain.StatusIdle:
		return "The journey has not started yet."
	case domain.StatusCompleted:
		return "All done. The journey is complete."
	case domain.StatusStopped:
		return "The journey was stopped."
	case domain.StatusFailed:
		if s.LastError != nil {
			return fmt.Sprintf("The journey failed at %s: %s", s.LastError.NodeID, s.LastError.Reason)
		}
		return "The journey failed."
	case domain.StatusPaused:
		return "The journey is paused. Say resume to continue."
	}

	if s.Awaiting != nil {
		text := s.Awaiting.Prompt
		if len(s.Awaiting.Choices) > 0 {
			text = strings.TrimSpace(text + " Options: " + strings.Join(s.Awaiting.Choices, ", ") + ".")
		}
		if text != "" {
			return text
		}
	}
	if s.CurrentNodeID == "" {
		return ""
	}
	state, ok := j.Definition.State(s.CurrentNodeID)
	if !ok {
		return ""
	}
	return runtime.RenderPrompt(state.Prompt, runtime.Environment(j.Definition, s))
}
