package runtime

import (
	"fmt"
	"strings"

	"github.com/aretw0/journey/internal/mapper"
	"github.com/aretw0/journey/pkg/domain"
)

// enter makes nodeID the current node. Condition and terminal nodes are resolved
// immediately, so the run always comes to rest on an action or human-input node,
// or completes.
func (t *Tracker) enter(next *domain.ExecutionState, nodeID string, fx *effects) error {
	// Condition chains are bounded by the graph size; only retry edges can loop.
	for hops := 0; hops <= len(t.journey.Graph.Nodes); hops++ {
		node, state, err := t.node(nodeID)
		if err != nil {
			return err
		}

		next.CurrentNodeID = nodeID
		next.Unsettle(nodeID)
		next.History = append(next.History, nodeID)
		next.GatePassed = false
		next.StepStarted = false
		next.Awaiting = nil
		delete(next.Choices, nodeID)

		switch node.Kind {
		case domain.KindTerminal:
			next.MarkCompleted(nodeID)
			t.finish(next)
			return nil

		case domain.KindCondition:
			next.MarkCompleted(nodeID)
			edge, wait, err := t.selectEdge(next, nodeID)
			if err != nil {
				return err
			}
			if wait {
				t.awaitDecision(next, nodeID)
				return nil
			}
			if edge == nil {
				t.finish(next)
				return nil
			}
			nodeID = edge.Target
			continue
		}

		next.Status = domain.StatusRunning
		if state.Policy.Gated() {
			t.openGate(next, node, state, fx)
		}
		return nil
	}

	return t.fail(next, domain.ErrNoMatchingTransition, nodeID, "condition nodes loop without reaching a step")
}

// openGate suspends the run at a gated node.
func (t *Tracker) openGate(next *domain.ExecutionState, node domain.Node, state domain.StateMapping, fx *effects) {
	cfg := t.config(node.ID)
	env := Environment(t.journey.Definition, next)
	prompt := RenderPrompt(state.Prompt, env)

	next.Status = domain.StatusAwaitingInput

	if state.Policy == domain.PolicyRequiresConfirmation {
		next.Awaiting = &domain.AwaitedInput{
			Kind:   domain.InputConfirmation,
			NodeID: node.ID,
			Prompt: prompt,
		}
		return
	}

	ivType := domain.InterventionApproval
	if node.Kind == domain.KindHumanInput {
		ivType = cfg.InterventionKind()
	}

	awaiting := &domain.AwaitedInput{
		NodeID:         node.ID,
		Prompt:         prompt,
		InterventionID: t.newID(),
	}
	payload := map[string]any{
		"node_label": node.Label,
	}

	switch ivType {
	case domain.InterventionDataInput:
		awaiting.Kind = domain.InputData
		if v, ok := t.journey.Definition.Slot(node.ID, cfg.Input); ok {
			awaiting.Slot = v.Slot
			awaiting.SlotType = v.Type
			awaiting.Choices = append([]string(nil), v.Options...)
			payload["slot"] = v.Slot
			payload["slot_type"] = string(v.Type)
			if len(v.Options) > 0 {
				payload["options"] = v.Options
			}
		}
	case domain.InterventionDecision:
		awaiting.Kind = domain.InputDecision
		awaiting.Choices = t.choiceNames(node.ID)
		payload["choices"] = awaiting.Choices
	default:
		awaiting.Kind = domain.InputApproval
	}

	next.Awaiting = awaiting
	fx.add(domain.Effect{
		Kind:             domain.EffectOpenIntervention,
		NodeID:           node.ID,
		InterventionID:   awaiting.InterventionID,
		InterventionType: ivType,
		Prompt:           prompt,
		Payload:          payload,
		Timeout:          cfg.Timeout,
	})
}

// closeGate withdraws the pending intervention of the current node, if any.
func (t *Tracker) closeGate(next *domain.ExecutionState, fx *effects) {
	if next.Awaiting != nil && next.Awaiting.InterventionID != "" {
		fx.add(domain.Effect{
			Kind:           domain.EffectCloseIntervention,
			NodeID:         next.Awaiting.NodeID,
			InterventionID: next.Awaiting.InterventionID,
		})
	}
	next.Awaiting = nil
}

// awaitDecision suspends routing at a settled node until the user picks a choice.
func (t *Tracker) awaitDecision(next *domain.ExecutionState, nodeID string) {
	_, state, _ := t.node(nodeID)
	next.Status = domain.StatusAwaitingInput
	next.Awaiting = &domain.AwaitedInput{
		Kind:    domain.InputDecision,
		NodeID:  nodeID,
		Choices: t.choiceNames(nodeID),
		Prompt:  RenderPrompt(state.Prompt, Environment(t.journey.Definition, next)),
	}
}

// advance leaves a settled node through the first matching edge.
func (t *Tracker) advance(next *domain.ExecutionState, from string, fx *effects) error {
	edge, wait, err := t.selectEdge(next, from)
	if err != nil {
		return err
	}
	if wait {
		t.awaitDecision(next, from)
		return nil
	}
	if edge == nil {
		t.finish(next)
		return nil
	}
	return t.enter(next, edge.Target, fx)
}

// selectEdge picks the outgoing edge to follow. Guarded edges are tried in order,
// then the edge chosen by the user, then the first unguarded edge.
// wait reports that only user-choice edges remain and no choice was made.
// A nil edge without wait means the node has no outgoing edges.
func (t *Tracker) selectEdge(next *domain.ExecutionState, nodeID string) (*domain.Edge, bool, error) {
	edges := t.journey.Graph.OutgoingEdges(nodeID)
	if len(edges) == 0 {
		return nil, false, nil
	}

	env := Environment(t.journey.Definition, next)
	var guardErrs []string
	var choices []domain.Edge
	var fallback *domain.Edge

	for i := range edges {
		e := edges[i]
		switch {
		case e.UserChoice:
			choices = append(choices, e)
		case e.Guard != "":
			ok, err := t.eval.Evaluate(e.Guard, env)
			if err != nil {
				guardErrs = append(guardErrs, fmt.Sprintf("%s: %v", e.ID, err))
				continue
			}
			if ok {
				return &e, false, nil
			}
		case fallback == nil:
			fallback = &edges[i]
		}
	}

	if chosen := next.Choices[nodeID]; chosen != "" {
		for i := range choices {
			if mapper.ChoiceName(choices[i]) == chosen {
				return &choices[i], false, nil
			}
		}
	}

	if fallback != nil {
		return fallback, false, nil
	}
	if len(choices) > 0 && next.Choices[nodeID] == "" {
		return nil, true, nil
	}

	reason := fmt.Sprintf("no outgoing edge of %s matched", nodeID)
	if len(guardErrs) > 0 {
		reason += " (" + strings.Join(guardErrs, "; ") + ")"
	}
	return nil, false, t.fail(next, domain.ErrNoMatchingTransition, nodeID, reason)
}

// choiceNames lists the intent names of the user-choice edges leaving nodeID.
func (t *Tracker) choiceNames(nodeID string) []string {
	var names []string
	for _, e := range t.journey.Graph.OutgoingEdges(nodeID) {
		if e.UserChoice {
			names = append(names, mapper.ChoiceName(e))
		}
	}
	return names
}

// matchChoice resolves a reply to one of the node's choice names.
func (t *Tracker) matchChoice(nodeID string, reply string) (string, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", false
	}
	slug := mapper.Slug(reply)
	for _, e := range t.journey.Graph.OutgoingEdges(nodeID) {
		if !e.UserChoice {
			continue
		}
		name := mapper.ChoiceName(e)
		if slug == name || strings.EqualFold(reply, e.Label) || strings.EqualFold(reply, e.Target) {
			return name, true
		}
	}
	return "", false
}

// finish completes the run. Nodes on branches that were never taken count as skipped.
func (t *Tracker) finish(next *domain.ExecutionState) {
	for _, n := range t.journey.Graph.Nodes {
		if !next.Settled(n.ID) {
			next.MarkSkipped(n.ID)
		}
	}
	next.Status = domain.StatusCompleted
	next.CurrentNodeID = ""
	next.Awaiting = nil
	next.GatePassed = false
	next.StepStarted = false
}
