package journey

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/journey/internal/runtime"
	"github.com/aretw0/journey/pkg/domain"
	"gopkg.in/yaml.v3"
)

// describe answers an informational command from the session's current state.
func describe(j *domain.Journey, s *domain.ExecutionState, r domain.ResolvedIntent) (string, error) {
	switch r.Command {
	case domain.CommandStatus:
		return statusText(s), nil
	case domain.CommandExplain:
		return explainText(j, s, r.Parameters["node"])
	case domain.CommandDebug:
		return debugText(s), nil
	case domain.CommandExport:
		return exportText(s, r.Parameters["format"])
	case domain.CommandHelp:
		return helpText(s), nil
	}
	return "", domain.NewSessionError(domain.ErrCommandUnavailable, s.SessionID, s.CurrentNodeID,
		fmt.Sprintf("%s has no answer", r.Command))
}

func statusText(s *domain.ExecutionState) string {
	p := s.Progress()
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s.", s.Status)
	if s.CurrentNodeID != "" {
		fmt.Fprintf(&b, " Current step: %s.", s.CurrentNodeID)
	}
	fmt.Fprintf(&b, " %d of %d steps done (%.0f%%)", p.Completed+p.Failed+p.Skipped, p.Total, p.Percent)
	if p.Failed > 0 || p.Skipped > 0 {
		fmt.Fprintf(&b, ", %d failed, %d skipped", p.Failed, p.Skipped)
	}
	b.WriteString(".")
	if s.LastError != nil && s.Status == domain.StatusFailed {
		fmt.Fprintf(&b, " Last error: %s.", s.LastError.Reason)
	}
	return b.String()
}

func explainText(j *domain.Journey, s *domain.ExecutionState, nodeID string) (string, error) {
	if nodeID == "" {
		nodeID = s.CurrentNodeID
	}
	if nodeID == "" {
		return "Nothing is running right now. " + statusText(s), nil
	}

	node, ok := j.Graph.Node(nodeID)
	if !ok {
		return "", domain.NewSessionError(domain.ErrNotFound, s.SessionID, nodeID, "the journey has no step "+nodeID)
	}
	state, _ := j.Definition.State(nodeID)

	name := node.Label
	if name == "" {
		name = node.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Step %q is a %s step", name, node.Kind)
	switch state.Policy {
	case domain.PolicyRequiresConfirmation:
		b.WriteString(" that asks for your confirmation")
	case domain.PolicyRequiresHumanApproval:
		b.WriteString(" that waits for a human response")
	}
	b.WriteString(".")
	if prompt := runtime.RenderPrompt(state.Prompt, runtime.Environment(j.Definition, s)); prompt != "" {
		fmt.Fprintf(&b, " %s", prompt)
	}

	switch {
	case containsNode(s.CompletedNodes, nodeID):
		b.WriteString(" It is done.")
	case containsNode(s.SkippedNodes, nodeID):
		b.WriteString(" It was skipped.")
	case containsNode(s.FailedNodes, nodeID):
		b.WriteString(" It failed.")
	case nodeID == s.CurrentNodeID && s.Awaiting != nil:
		fmt.Fprintf(&b, " It is waiting for %s.", s.Awaiting.Kind)
	case nodeID == s.CurrentNodeID:
		b.WriteString(" It is in progress.")
	}
	return b.String(), nil
}

func debugText(s *domain.ExecutionState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session=%s journey=%s v%d seq=%d status=%s errors=%d",
		s.SessionID, s.JourneyID, s.MappingVersion, s.Seq, s.Status, s.ErrorCount)
	for node, n := range s.NodeFailures {
		fmt.Fprintf(&b, " failures[%s]=%d", node, n)
	}
	if s.LastError != nil {
		fmt.Fprintf(&b, " last_error=%s:%s", s.LastError.Code, s.LastError.Reason)
	}
	if len(s.History) > 0 {
		from := 0
		if len(s.History) > 10 {
			from = len(s.History) - 10
		}
		fmt.Fprintf(&b, " history=%s", strings.Join(s.History[from:], ">"))
	}
	return b.String()
}

// exportText renders the state as json (default), yaml or a csv of node outcomes.
func exportText(s *domain.ExecutionState, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "json":
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to export state: %w", err)
		}
		return string(data), nil

	case "yaml", "yml":
		// Round trip through JSON so the field names match the JSON contract.
		raw, err := json.Marshal(s)
		if err != nil {
			return "", fmt.Errorf("failed to export state: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("failed to export state: %w", err)
		}
		data, err := yaml.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("failed to export state: %w", err)
		}
		return string(data), nil

	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		rows := [][]string{{"node", "outcome"}}
		for _, id := range s.CompletedNodes {
			rows = append(rows, []string{id, "completed"})
		}
		for _, id := range s.FailedNodes {
			rows = append(rows, []string{id, "failed"})
		}
		for _, id := range s.SkippedNodes {
			rows = append(rows, []string{id, "skipped"})
		}
		if s.CurrentNodeID != "" && !s.Settled(s.CurrentNodeID) {
			rows = append(rows, []string{s.CurrentNodeID, "current"})
		}
		if err := w.WriteAll(rows); err != nil {
			return "", fmt.Errorf("failed to export state: %w", err)
		}
		return buf.String(), nil
	}
	return "", domain.NewSessionError(domain.ErrInputMismatch, s.SessionID, s.CurrentNodeID,
		fmt.Sprintf("unknown export format %q, use json, yaml or csv", format))
}

func helpText(s *domain.ExecutionState) string {
	actions := make([]string, 0, len(s.AvailableActions))
	for _, a := range s.AvailableActions {
		actions = append(actions, string(a))
	}
	var b strings.Builder
	if len(actions) > 0 {
		fmt.Fprintf(&b, "You can say: %s. ", strings.Join(actions, ", "))
	}
	b.WriteString("Ask for status, explain, debug or export at any time.")
	if s.Awaiting != nil && s.Awaiting.Prompt != "" {
		fmt.Fprintf(&b, " Waiting on: %s", s.Awaiting.Prompt)
	}
	return b.String()
}

func containsNode(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
