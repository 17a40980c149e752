// Package mapper converts workflow graphs into journey definitions.
//
// Mapping is pure and deterministic: the same graph and options always produce the
// same definition, with ids derived from node and edge ids. A failed mapping never
// returns a partial definition.
package mapper

import (
	"fmt"
	"sort"

	"github.com/aretw0/journey/internal/validator"
	"github.com/aretw0/journey/pkg/domain"
)

// GuardChecker validates guard expressions at mapping time.
type GuardChecker interface {
	Check(expression string) error
}

// Options tune a mapping run.
type Options struct {
	// Version is the mapping version stamped on the definition. Values below 1 mean 1.
	Version int

	// JourneyID overrides the derived journey id.
	JourneyID string

	// PromptFallback derives a prompt for nodes that do not declare one.
	PromptFallback bool

	// Guards, when set, rejects graphs with guards that do not compile.
	Guards GuardChecker
}

// DefaultOptions returns the options used by the engine.
func DefaultOptions() Options {
	return Options{Version: 1, PromptFallback: true}
}

// Map builds the journey definition of g.
func Map(g *domain.Graph, opts Options) (*domain.JourneyDefinition, error) {
	if err := validator.ValidateGraph(g); err != nil {
		return nil, err
	}

	entry, err := g.EntryNode()
	if err != nil {
		return nil, err
	}

	fingerprint := g.Fingerprint()
	version := opts.Version
	if version < 1 {
		version = 1
	}
	journeyID := opts.JourneyID
	if journeyID == "" {
		journeyID = "journey_" + Slug(g.WorkflowID) + "_" + fingerprint[:12]
	}

	configs := make(map[string]domain.NodeConfig, len(g.Nodes))
	var problems []string
	for _, n := range g.Nodes {
		cfg, err := domain.DecodeNodeConfig(n.Config)
		if err != nil {
			problems = append(problems, fmt.Sprintf("node %q: %v", n.ID, err))
			continue
		}
		if cfg.Policy != "" && !cfg.Policy.Valid() {
			problems = append(problems, fmt.Sprintf("node %q: unknown policy %q", n.ID, cfg.Policy))
		}
		if cfg.Intervention != "" && !cfg.Intervention.Valid() {
			problems = append(problems, fmt.Sprintf("node %q: unknown intervention type %q", n.ID, cfg.Intervention))
		}
		configs[n.ID] = cfg
	}
	if len(problems) == 0 {
		problems = checkGuards(g, opts.Guards)
	}
	if len(problems) > 0 {
		return nil, &domain.InvalidGraphError{WorkflowID: g.WorkflowID, Problems: problems}
	}

	states, err := mapStates(g, configs, opts.PromptFallback)
	if err != nil {
		return nil, err
	}

	transitions, err := mapTransitions(g)
	if err != nil {
		return nil, err
	}

	variables, err := mapVariables(g, configs)
	if err != nil {
		return nil, err
	}

	return &domain.JourneyDefinition{
		JourneyID:        journeyID,
		WorkflowID:       g.WorkflowID,
		MappingVersion:   version,
		Fingerprint:      fingerprint,
		EntryNodeID:      entry,
		NodeStates:       states,
		EdgeTransitions:  transitions,
		ContextVariables: variables,
	}, nil
}

func checkGuards(g *domain.Graph, guards GuardChecker) []string {
	if guards == nil {
		return nil
	}
	var problems []string
	for _, e := range g.Edges {
		if e.Guard == "" {
			continue
		}
		if err := guards.Check(e.Guard); err != nil {
			problems = append(problems, fmt.Sprintf("edge %q: invalid guard: %v", e.ID, err))
		}
	}
	return problems
}

func mapStates(g *domain.Graph, configs map[string]domain.NodeConfig, fallback bool) ([]domain.StateMapping, error) {
	states := make([]domain.StateMapping, 0, len(g.Nodes))
	seen := make(map[string]string, len(g.Nodes))

	for _, n := range g.Nodes {
		cfg := configs[n.ID]
		stateID := "state_" + Slug(n.ID)
		if other, dup := seen[stateID]; dup {
			return nil, &domain.InvalidGraphError{
				WorkflowID: g.WorkflowID,
				Problems:   []string{fmt.Sprintf("nodes %q and %q map to the same state %q", other, n.ID, stateID)},
			}
		}
		seen[stateID] = n.ID

		s := domain.StateMapping{
			NodeID:  n.ID,
			StateID: stateID,
			Kind:    n.Kind,
			Prompt:  cfg.Prompt,
			Policy:  cfg.EffectivePolicy(n.Kind),
		}

		switch n.Kind {
		case domain.KindCondition:
			s.Policy = domain.PolicyAuto
			s.Decision = true
		case domain.KindTerminal:
			s.Policy = domain.PolicyAuto
			s.Final = true
		}

		if s.Prompt == "" && fallback {
			s.Prompt = fallbackPrompt(n, cfg)
		}
		states = append(states, s)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].NodeID < states[j].NodeID })
	return states, nil
}

func mapTransitions(g *domain.Graph) ([]domain.TransitionMapping, error) {
	kinds := make(map[string]domain.NodeKind, len(g.Nodes))
	for _, n := range g.Nodes {
		kinds[n.ID] = n.Kind
	}

	transitions := make([]domain.TransitionMapping, 0, len(g.Edges))
	seen := make(map[string]string, len(g.Edges))

	for _, e := range g.Edges {
		id := "tr_" + Slug(e.ID)
		if other, dup := seen[id]; dup {
			return nil, &domain.InvalidGraphError{
				WorkflowID: g.WorkflowID,
				Problems:   []string{fmt.Sprintf("edges %q and %q map to the same transition %q", other, e.ID, id)},
			}
		}
		seen[id] = e.ID

		transitions = append(transitions, domain.TransitionMapping{
			EdgeID:       e.ID,
			TransitionID: id,
			FromState:    "state_" + Slug(e.Source),
			ToState:      "state_" + Slug(e.Target),
			Trigger:      TriggerFor(e, kinds[e.Source]),
			Guard:        e.Guard,
			Retry:        e.Retry,
		})
	}

	sort.Slice(transitions, func(i, j int) bool { return transitions[i].EdgeID < transitions[j].EdgeID })
	return transitions, nil
}

// TriggerFor derives the conversational trigger of an edge.
func TriggerFor(e domain.Edge, source domain.NodeKind) domain.Trigger {
	switch {
	case e.UserChoice:
		return domain.Trigger{Kind: domain.TriggerOnIntent, Intent: ChoiceName(e)}
	case e.Guard != "" || source == domain.KindCondition:
		return domain.Trigger{Kind: domain.TriggerOnCondition}
	default:
		return domain.Trigger{Kind: domain.TriggerAutomatic}
	}
}

// ChoiceName is the intent name a user-choice edge is selected by.
func ChoiceName(e domain.Edge) string {
	if e.Label != "" {
		return Slug(e.Label)
	}
	return Slug(e.Target)
}

func fallbackPrompt(n domain.Node, cfg domain.NodeConfig) string {
	name := n.Label
	if name == "" {
		name = n.ID
	}

	switch n.Kind {
	case domain.KindHumanInput:
		switch cfg.InterventionKind() {
		case domain.InterventionDataInput:
			return fmt.Sprintf("Please provide %s for %s.", cfg.Input, name)
		case domain.InterventionDecision:
			return fmt.Sprintf("How should %s continue?", name)
		}
		return fmt.Sprintf("%s needs your approval. Approve?", name)
	case domain.KindCondition:
		return fmt.Sprintf("Checking %s.", name)
	case domain.KindTerminal:
		return fmt.Sprintf("%s reached.", name)
	}

	if cfg.EffectivePolicy(n.Kind) == domain.PolicyRequiresConfirmation {
		return fmt.Sprintf("Ready to run %s. Continue?", name)
	}
	return fmt.Sprintf("Running %s.", name)
}
