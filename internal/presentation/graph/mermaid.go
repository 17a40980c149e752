package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
)

// Overlay contains session progress to paint on the graph.
type Overlay struct {
	Completed []string
	Failed    []string
	Skipped   []string
	Current   string
}

// OverlayOf builds an Overlay from an execution state.
func OverlayOf(s *domain.ExecutionState) *Overlay {
	if s == nil {
		return nil
	}
	return &Overlay{
		Completed: s.CompletedNodes,
		Failed:    s.FailedNodes,
		Skipped:   s.SkippedNodes,
		Current:   s.CurrentNodeID,
	}
}

// GenerateMermaid produces a Mermaid flowchart of a workflow graph.
// It applies semantic shapes:
// - Terminal: ((Circle))
// - Condition: {Rhombus}
// - Human input: [/Parallelogram/]
// - Action: [Rectangle], [[Subroutine]] when it asks for confirmation
// Guarded edges carry the guard as label; retry edges are dotted.
func GenerateMermaid(g *domain.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range g.Nodes {
		safeID := sanitizeMermaidID(node.ID)
		cfg, _ := domain.DecodeNodeConfig(node.Config)

		opener, closer := "[", "]"
		switch {
		case node.Kind == domain.KindTerminal:
			opener, closer = "((", "))"
		case node.Kind == domain.KindCondition:
			opener, closer = "{", "}"
		case node.Kind == domain.KindHumanInput || cfg.Policy == domain.PolicyRequiresHumanApproval:
			opener, closer = "[/", "/]"
		case cfg.Confirm || cfg.Policy == domain.PolicyRequiresConfirmation:
			opener, closer = "[[", "]]"
		}

		text := node.ID
		if node.Label != "" && node.Label != node.ID {
			text = node.Label
		}
		text = strings.ReplaceAll(text, "\"", "'")
		if cfg.Timeout > 0 {
			text = fmt.Sprintf("%s <br/> ⏱️ %s", text, cfg.Timeout)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, text, closer)

		for _, e := range g.OutgoingEdges(node.ID) {
			safeTo := sanitizeMermaidID(e.Target)
			label := e.Guard
			if e.UserChoice && e.Label != "" {
				label = e.Label
			}
			label = strings.ReplaceAll(label, "\"", "'")

			switch {
			case e.Retry && label != "":
				fmt.Fprintf(&sb, "    %s -. \"↻ %s\" .-> %s\n", safeID, label, safeTo)
			case e.Retry:
				fmt.Fprintf(&sb, "    %s -. ↻ .-> %s\n", safeID, safeTo)
			case label != "":
				fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, label, safeTo)
			default:
				fmt.Fprintf(&sb, "    %s --> %s\n", safeID, safeTo)
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on both light and dark themes.
		sb.WriteString("    classDef completed fill:#e8f5e9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffebee,stroke:#c62828,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef skipped fill:#f5f5f5,stroke:#9e9e9e,stroke-dasharray:4,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		writeClass(&sb, overlay.Completed, "completed")
		writeClass(&sb, overlay.Failed, "failed")
		writeClass(&sb, overlay.Skipped, "skipped")
		if overlay.Current != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.Current))
		}
	}

	return sb.String()
}

func writeClass(sb *strings.Builder, ids []string, class string) {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		safeID := sanitizeMermaidID(id)
		if safeID == "" || seen[safeID] {
			continue
		}
		seen[safeID] = true
		fmt.Fprintf(sb, "    class %s %s;\n", safeID, class)
	}
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
