package domain_test

import (
	"testing"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph() *domain.Graph {
	return &domain.Graph{
		WorkflowID: "wf",
		Nodes: []domain.Node{
			{ID: "a", Kind: domain.KindAction},
			{ID: "b", Kind: domain.KindAction},
			{ID: "c", Kind: domain.KindTerminal},
		},
		Edges: []domain.Edge{
			{ID: "a-b", Source: "a", Target: "b"},
			{ID: "b-c", Source: "b", Target: "c"},
		},
	}
}

func TestGraph_EntryNode(t *testing.T) {
	t.Run("Inferred", func(t *testing.T) {
		entry, err := linearGraph().EntryNode()
		require.NoError(t, err)
		assert.Equal(t, "a", entry)
	})

	t.Run("Retry Edge Does Not Count As Incoming", func(t *testing.T) {
		g := linearGraph()
		g.Edges = append(g.Edges, domain.Edge{ID: "b-a", Source: "b", Target: "a", Retry: true})
		entry, err := g.EntryNode()
		require.NoError(t, err)
		assert.Equal(t, "a", entry)
	})

	t.Run("Explicit Entry Must Exist", func(t *testing.T) {
		g := linearGraph()
		g.Entry = "ghost"
		_, err := g.EntryNode()
		assert.ErrorIs(t, err, domain.ErrInvalidGraph)
	})

	t.Run("No Nodes", func(t *testing.T) {
		_, err := (&domain.Graph{WorkflowID: "empty"}).EntryNode()
		assert.ErrorIs(t, err, domain.ErrEmptyGraph)
	})

	t.Run("Every Node Has Incoming", func(t *testing.T) {
		g := &domain.Graph{
			WorkflowID: "loop",
			Nodes:      []domain.Node{{ID: "a", Kind: domain.KindAction}, {ID: "b", Kind: domain.KindAction}},
			Edges: []domain.Edge{
				{ID: "a-b", Source: "a", Target: "b"},
				{ID: "b-a", Source: "b", Target: "a"},
			},
		}
		_, err := g.EntryNode()
		assert.ErrorIs(t, err, domain.ErrEmptyGraph)
	})

	t.Run("Multiple Candidates", func(t *testing.T) {
		g := linearGraph()
		g.Nodes = append(g.Nodes, domain.Node{ID: "orphan", Kind: domain.KindAction})
		_, err := g.EntryNode()
		assert.ErrorIs(t, err, domain.ErrInvalidGraph)
	})
}

func TestGraph_OutgoingEdges_RespectsDeclaredOrder(t *testing.T) {
	g := &domain.Graph{
		WorkflowID: "branch",
		Nodes: []domain.Node{
			{ID: "check", Kind: domain.KindCondition, Outgoing: []string{"to-low", "to-high"}},
			{ID: "high", Kind: domain.KindTerminal},
			{ID: "low", Kind: domain.KindTerminal},
		},
		Edges: []domain.Edge{
			{ID: "to-high", Source: "check", Target: "high", Guard: "amount > 100"},
			{ID: "to-low", Source: "check", Target: "low"},
		},
	}

	out := g.OutgoingEdges("check")
	require.Len(t, out, 2)
	assert.Equal(t, "to-low", out[0].ID)
	assert.Equal(t, "to-high", out[1].ID)
	assert.Equal(t, []string{"check", "low", "high"}, g.Reachable("check"))
}

func TestGraph_Fingerprint(t *testing.T) {
	a := linearGraph()
	b := linearGraph()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Edges[0].Guard = "ready == true"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestGraph_AssignEdgeIDs(t *testing.T) {
	g := &domain.Graph{
		Edges: []domain.Edge{
			{Source: "a", Target: "b"},
			{ID: "a-b-2", Source: "x", Target: "y"},
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		},
	}
	g.AssignEdgeIDs()

	ids := make([]string, len(g.Edges))
	for i, e := range g.Edges {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"a-b", "a-b-2", "a-b-3", "b-c"}, ids)
}
