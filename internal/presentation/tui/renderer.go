package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// Renderer turns replies into terminal output.
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer returns a Renderer that styles markdown with glamour.
// style is a glamour standard style ("dark", "light", "notty"); empty means auto-detect.
func NewRenderer(style string) (*Renderer, error) {
	opt := glamour.WithAutoStyle()
	if style != "" {
		opt = glamour.WithStandardStyle(style)
	}
	md, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{md: md}, nil
}

// Render styles a reply. When styling fails the plain markdown is returned.
func (r *Renderer) Render(reply *domain.Reply) string {
	text := ReplyMarkdown(reply)
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return out
}

// ReplyMarkdown formats a reply as markdown.
func ReplyMarkdown(reply *domain.Reply) string {
	var b strings.Builder
	if reply.PromptText != "" {
		b.WriteString(reply.PromptText)
		b.WriteString("\n\n")
	}

	p := reply.Progress
	fmt.Fprintf(&b, "**%s** %s %d/%d", reply.Status, progressBar(p.Percent, 20), p.Completed+p.Failed+p.Skipped, p.Total)
	if p.Failed > 0 {
		fmt.Fprintf(&b, " · %d failed", p.Failed)
	}
	if p.Skipped > 0 {
		fmt.Fprintf(&b, " · %d skipped", p.Skipped)
	}
	b.WriteString("\n")

	if reply.Error != nil {
		fmt.Fprintf(&b, "\n> **%s** at `%s`: %s\n", reply.Error.Code, reply.Error.NodeID, reply.Error.Reason)
	}
	if reply.NeedsIntervention != nil {
		fmt.Fprintf(&b, "\n> Waiting on intervention `%s`\n", reply.NeedsIntervention.InterventionID)
	}
	if len(reply.AvailableActions) > 0 {
		actions := make([]string, len(reply.AvailableActions))
		for i, a := range reply.AvailableActions {
			actions[i] = "`" + string(a) + "`"
		}
		fmt.Fprintf(&b, "\nActions: %s\n", strings.Join(actions, " "))
	}
	return b.String()
}

func progressBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}
