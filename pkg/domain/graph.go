package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// NodeKind classifies the work a node represents.
type NodeKind string

const (
	// KindAction is a unit of work executed by the external engine.
	KindAction NodeKind = "action"
	// KindCondition branches on guards; it performs no external work.
	KindCondition NodeKind = "condition"
	// KindHumanInput suspends the run until a person responds.
	KindHumanInput NodeKind = "human-input"
	// KindTerminal marks an exit point of the workflow.
	KindTerminal NodeKind = "terminal"
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindAction, KindCondition, KindHumanInput, KindTerminal:
		return true
	}
	return false
}

// Node is a vertex of the workflow graph.
type Node struct {
	ID    string   `json:"id" yaml:"id" mapstructure:"id" validate:"required"`
	Kind  NodeKind `json:"kind" yaml:"kind" mapstructure:"kind" validate:"required,oneof=action condition human-input terminal"`
	Label string   `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`

	// Config is the opaque per-node configuration. See NodeConfig for the keys the engine reads.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty" mapstructure:"config"`

	// Outgoing lists edge ids in evaluation order.
	// When empty, it is derived from the graph edges in declaration order.
	Outgoing []string `json:"outgoing,omitempty" yaml:"outgoing,omitempty" mapstructure:"outgoing"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID     string `json:"id" yaml:"id" mapstructure:"id" validate:"required"`
	Source string `json:"source" yaml:"source" mapstructure:"source" validate:"required"`
	Target string `json:"target" yaml:"target" mapstructure:"target" validate:"required"`

	// Guard is an expression over context variables. Empty means unconditional.
	Guard string `json:"guard,omitempty" yaml:"guard,omitempty" mapstructure:"guard"`

	// Retry marks the edge as an explicit loop back. Only retry edges may close cycles.
	Retry bool `json:"retry,omitempty" yaml:"retry,omitempty" mapstructure:"retry"`

	// UserChoice makes the edge selectable by the user through its Label.
	UserChoice bool   `json:"user_choice,omitempty" yaml:"user_choice,omitempty" mapstructure:"user_choice"`
	Label      string `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`
}

// Graph is the immutable representation of a workflow.
type Graph struct {
	WorkflowID string `json:"workflow_id" yaml:"workflow_id" mapstructure:"workflow_id" validate:"required"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`

	// Entry optionally pins the entry node. When empty the entry is inferred.
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty" mapstructure:"entry"`

	Nodes []Node `json:"nodes" yaml:"nodes" mapstructure:"nodes" validate:"dive"`
	Edges []Edge `json:"edges" yaml:"edges" mapstructure:"edges" validate:"dive"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Edge returns the edge with the given id.
func (g *Graph) Edge(id string) (Edge, bool) {
	for _, e := range g.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// OutgoingEdges returns the edges leaving nodeID in evaluation order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	node, ok := g.Node(nodeID)
	if !ok {
		return nil
	}

	if len(node.Outgoing) > 0 {
		out := make([]Edge, 0, len(node.Outgoing))
		for _, id := range node.Outgoing {
			if e, ok := g.Edge(id); ok && e.Source == nodeID {
				out = append(out, e)
			}
		}
		return out
	}

	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EntryNode resolves the single entry point of the graph.
// An explicit Entry wins; otherwise the entry is the only node without incoming non-retry edges.
func (g *Graph) EntryNode() (string, error) {
	if len(g.Nodes) == 0 {
		return "", fmt.Errorf("workflow %q: %w", g.WorkflowID, ErrEmptyGraph)
	}

	if g.Entry != "" {
		if _, ok := g.Node(g.Entry); !ok {
			return "", &InvalidGraphError{
				WorkflowID: g.WorkflowID,
				Problems:   []string{fmt.Sprintf("entry node %q does not exist", g.Entry)},
			}
		}
		return g.Entry, nil
	}

	incoming := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		if !e.Retry {
			incoming[e.Target]++
		}
	}

	var candidates []string
	for _, n := range g.Nodes {
		if incoming[n.ID] == 0 {
			candidates = append(candidates, n.ID)
		}
	}

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("workflow %q: %w", g.WorkflowID, ErrEmptyGraph)
	case 1:
		return candidates[0], nil
	default:
		sort.Strings(candidates)
		return "", &InvalidGraphError{
			WorkflowID: g.WorkflowID,
			Problems:   []string{fmt.Sprintf("multiple entry candidates: %v", candidates)},
		}
	}
}

// Reachable returns every node id reachable from start (inclusive), in breadth-first order.
func (g *Graph) Reachable(start string) []string {
	if _, ok := g.Node(start); !ok {
		return nil
	}

	seen := map[string]bool{start: true}
	order := []string{start}
	for i := 0; i < len(order); i++ {
		for _, e := range g.OutgoingEdges(order[i]) {
			if !seen[e.Target] {
				seen[e.Target] = true
				order = append(order, e.Target)
			}
		}
	}
	return order
}

// Fingerprint is a stable digest of the graph content.
// Two graphs with the same nodes, edges and configuration share a fingerprint.
func (g *Graph) Fingerprint() string {
	// encoding/json sorts map keys, so the encoding is canonical for our purposes.
	data, err := json.Marshal(g)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AssignEdgeIDs names every edge that has no id as "<source>-<target>",
// suffixed with a counter when the pair repeats. Existing ids are kept.
func (g *Graph) AssignEdgeIDs() {
	used := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		if e.ID != "" {
			used[e.ID] = true
		}
	}
	for i := range g.Edges {
		if g.Edges[i].ID != "" {
			continue
		}
		base := g.Edges[i].Source + "-" + g.Edges[i].Target
		id := base
		for n := 2; used[id]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		used[id] = true
		g.Edges[i].ID = id
	}
}
