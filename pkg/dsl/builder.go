package dsl

import (
	"fmt"

	"github.com/aretw0/journey/internal/validator"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
)

// Builder manages the graph construction.
type Builder struct {
	workflowID string
	name       string
	entry      string
	order      []string
	nodes      map[string]*NodeBuilder
	edges      []domain.Edge
	edgeIDs    map[string]int
}

// New creates a new graph builder for the given workflow.
func New(workflowID string) *Builder {
	return &Builder{
		workflowID: workflowID,
		nodes:      make(map[string]*NodeBuilder),
		edgeIDs:    make(map[string]int),
	}
}

// Name sets the human readable workflow name.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Entry pins the entry node instead of letting the graph infer it.
func (b *Builder) Entry(id string) *Builder {
	b.entry = id
	return b
}

// Add creates a new node in the graph.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node: domain.Node{
			ID:   id,
			Kind: domain.KindAction,
		},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Action adds an action node.
func (b *Builder) Action(id string) *NodeBuilder {
	return b.Add(id).Kind(domain.KindAction)
}

// Condition adds a condition node.
func (b *Builder) Condition(id string) *NodeBuilder {
	return b.Add(id).Kind(domain.KindCondition)
}

// Human adds a human-input node.
func (b *Builder) Human(id string) *NodeBuilder {
	return b.Add(id).Kind(domain.KindHumanInput)
}

// Terminal adds a terminal node.
func (b *Builder) Terminal(id string) *NodeBuilder {
	return b.Add(id).Kind(domain.KindTerminal)
}

func (b *Builder) addEdge(e domain.Edge) {
	base := e.Source + "->" + e.Target
	b.edgeIDs[base]++
	if n := b.edgeIDs[base]; n > 1 {
		base = fmt.Sprintf("%s#%d", base, n)
	}
	e.ID = base
	b.edges = append(b.edges, e)
}

// Graph assembles the graph without validating it.
func (b *Builder) Graph() *domain.Graph {
	g := &domain.Graph{
		WorkflowID: b.workflowID,
		Name:       b.name,
		Entry:      b.entry,
		Nodes:      make([]domain.Node, 0, len(b.order)),
		Edges:      append([]domain.Edge(nil), b.edges...),
	}
	for _, id := range b.order {
		g.Nodes = append(g.Nodes, b.nodes[id].Build())
	}
	return g
}

// Build assembles and validates the graph.
func (b *Builder) Build() (*domain.Graph, error) {
	g := b.Graph()
	if err := validator.ValidateGraph(g); err != nil {
		return nil, err
	}
	return g, nil
}

// MustBuild is like Build but panics on an invalid graph.
func (b *Builder) MustBuild() *domain.Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

// Loader compiles the graph into a memory.Loader.
func (b *Builder) Loader() (*memory.Loader, error) {
	g, err := b.Build()
	if err != nil {
		return nil, err
	}

	loader, err := memory.NewFromGraphs(g)
	if err != nil {
		return nil, fmt.Errorf("failed to build memory loader: %w", err)
	}
	return loader, nil
}
