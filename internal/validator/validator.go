package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateGraph checks a graph for structural problems before it is mapped.
// It returns *domain.InvalidGraphError, *domain.CyclicGraphError or an
// error wrapping domain.ErrEmptyGraph.
func ValidateGraph(g *domain.Graph) error {
	if g == nil || len(g.Nodes) == 0 {
		id := ""
		if g != nil {
			id = g.WorkflowID
		}
		return fmt.Errorf("workflow %q: %w", id, domain.ErrEmptyGraph)
	}

	var problems []string

	// 1. Field level rules (ids, node kinds)
	if err := structValidator.Struct(g); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	// 2. References
	nodes := make(map[string]domain.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := nodes[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodes[n.ID] = n
	}

	edges := make(map[string]domain.Edge, len(g.Edges))
	for _, e := range g.Edges {
		if _, dup := edges[e.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		edges[e.ID] = e
		if _, ok := nodes[e.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge %q: unknown source %q", e.ID, e.Source))
		}
		if _, ok := nodes[e.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %q: unknown target %q", e.ID, e.Target))
		}
	}

	for _, n := range g.Nodes {
		for _, id := range n.Outgoing {
			e, ok := edges[id]
			if !ok {
				problems = append(problems, fmt.Sprintf("node %q: outgoing edge %q does not exist", n.ID, id))
				continue
			}
			if e.Source != n.ID {
				problems = append(problems, fmt.Sprintf("node %q: outgoing edge %q starts at %q", n.ID, id, e.Source))
			}
		}
	}

	if len(problems) > 0 {
		return &domain.InvalidGraphError{WorkflowID: g.WorkflowID, Problems: problems}
	}

	// 3. Cycles (only retry edges may close one)
	if cycle := FindCycle(g); len(cycle) > 0 {
		return &domain.CyclicGraphError{WorkflowID: g.WorkflowID, Nodes: cycle}
	}

	// 4. Entry and connectivity
	entry, err := g.EntryNode()
	if err != nil {
		return err
	}

	reachable := make(map[string]bool, len(g.Nodes))
	for _, id := range g.Reachable(entry) {
		reachable[id] = true
	}

	for _, n := range g.Nodes {
		if !reachable[n.ID] {
			problems = append(problems, fmt.Sprintf("node %q is unreachable from entry %q", n.ID, entry))
		}
		out := g.OutgoingEdges(n.ID)
		switch n.Kind {
		case domain.KindTerminal:
			for _, e := range out {
				if !e.Retry {
					problems = append(problems, fmt.Sprintf("terminal node %q has outgoing edge %q", n.ID, e.ID))
				}
			}
		case domain.KindCondition:
			if len(out) == 0 {
				problems = append(problems, fmt.Sprintf("condition node %q has no outgoing edges", n.ID))
			}
		}
	}

	if len(problems) > 0 {
		return &domain.InvalidGraphError{WorkflowID: g.WorkflowID, Problems: problems}
	}
	return nil
}

// FindCycle runs Kahn's algorithm over the non-retry edges and returns the
// sorted ids of nodes that could not be ordered. An empty result means the
// graph is acyclic once retry edges are ignored.
func FindCycle(g *domain.Graph) []string {
	indegree := make(map[string]int, len(g.Nodes))
	adjacent := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		if e.Retry {
			continue
		}
		if _, ok := indegree[e.Target]; !ok {
			continue
		}
		if _, ok := indegree[e.Source]; !ok {
			continue
		}
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
		indegree[e.Target]++
	}

	var queue []string
	for _, n := range g.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adjacent[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(indegree) {
		return nil
	}

	var left []string
	for id, d := range indegree {
		if d > 0 {
			left = append(left, id)
		}
	}
	sort.Strings(left)
	return left
}

// Describe renders a validation error as a bullet list for terminal output.
func Describe(err error) string {
	var invalid *domain.InvalidGraphError
	if errors.As(err, &invalid) {
		return fmt.Sprintf("found %d errors:\n- %s", len(invalid.Problems), strings.Join(invalid.Problems, "\n- "))
	}
	return err.Error()
}
