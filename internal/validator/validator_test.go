package validator

import (
	"errors"
	"testing"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear() *domain.Graph {
	return &domain.Graph{
		WorkflowID: "linear",
		Nodes: []domain.Node{
			{ID: "A", Kind: domain.KindAction},
			{ID: "B", Kind: domain.KindAction},
			{ID: "C", Kind: domain.KindTerminal},
		},
		Edges: []domain.Edge{
			{ID: "ab", Source: "A", Target: "B"},
			{ID: "bc", Source: "B", Target: "C"},
		},
	}
}

func TestValidateGraph(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(g *domain.Graph)
		wantErr error
		wantMsg string
	}{
		{
			name:   "valid linear graph",
			mutate: func(g *domain.Graph) {},
		},
		{
			name:    "dangling edge",
			mutate:  func(g *domain.Graph) { g.Edges = append(g.Edges, domain.Edge{ID: "bx", Source: "B", Target: "ghost"}) },
			wantErr: domain.ErrInvalidGraph,
			wantMsg: `unknown target "ghost"`,
		},
		{
			name:    "duplicate node",
			mutate:  func(g *domain.Graph) { g.Nodes = append(g.Nodes, domain.Node{ID: "A", Kind: domain.KindAction}) },
			wantErr: domain.ErrInvalidGraph,
			wantMsg: `duplicate node id "A"`,
		},
		{
			name:    "unknown kind",
			mutate:  func(g *domain.Graph) { g.Nodes[1].Kind = "script" },
			wantErr: domain.ErrInvalidGraph,
			wantMsg: "oneof",
		},
		{
			name: "cycle without retry flag",
			mutate: func(g *domain.Graph) {
				g.Entry = "A"
				g.Edges = append(g.Edges, domain.Edge{ID: "ba", Source: "B", Target: "A"})
			},
			wantErr: domain.ErrCyclicGraph,
		},
		{
			name:   "cycle through retry edge",
			mutate: func(g *domain.Graph) { g.Edges = append(g.Edges, domain.Edge{ID: "ba", Source: "B", Target: "A", Retry: true}) },
		},
		{
			name: "two entry candidates",
			mutate: func(g *domain.Graph) {
				g.Nodes = append(g.Nodes, domain.Node{ID: "D", Kind: domain.KindAction})
				g.Edges = append(g.Edges, domain.Edge{ID: "dc", Source: "D", Target: "C"})
			},
			wantErr: domain.ErrInvalidGraph,
			wantMsg: "multiple entry candidates",
		},
		{
			name: "unreachable node behind explicit entry",
			mutate: func(g *domain.Graph) {
				g.Entry = "B"
			},
			wantErr: domain.ErrInvalidGraph,
			wantMsg: `node "A" is unreachable`,
		},
		{
			name:    "terminal with outgoing edge",
			mutate:  func(g *domain.Graph) { g.Nodes[1].Kind = domain.KindTerminal },
			wantErr: domain.ErrInvalidGraph,
			wantMsg: `terminal node "B"`,
		},
		{
			name:    "condition without branches",
			mutate:  func(g *domain.Graph) { g.Nodes[2].Kind = domain.KindCondition },
			wantErr: domain.ErrInvalidGraph,
			wantMsg: `condition node "C"`,
		},
		{
			name:    "outgoing list names a foreign edge",
			mutate:  func(g *domain.Graph) { g.Nodes[0].Outgoing = []string{"bc"} },
			wantErr: domain.ErrInvalidGraph,
			wantMsg: `outgoing edge "bc" starts at "B"`,
		},
		{
			name:    "empty graph",
			mutate:  func(g *domain.Graph) { g.Nodes = nil; g.Edges = nil },
			wantErr: domain.ErrEmptyGraph,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := linear()
			tt.mutate(g)

			err := ValidateGraph(g)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestFindCycle(t *testing.T) {
	g := linear()
	assert.Empty(t, FindCycle(g))

	g.Nodes = append(g.Nodes, domain.Node{ID: "D", Kind: domain.KindAction})
	g.Edges = append(g.Edges,
		domain.Edge{ID: "cd", Source: "B", Target: "D"},
		domain.Edge{ID: "db", Source: "D", Target: "B"},
	)

	cycle := FindCycle(g)
	assert.Equal(t, []string{"B", "C", "D"}, cycle)

	var cyclic *domain.CyclicGraphError
	g.Entry = "A"
	err := ValidateGraph(g)
	require.True(t, errors.As(err, &cyclic))
	assert.Equal(t, cycle, cyclic.Nodes)
}

func TestDescribe(t *testing.T) {
	err := &domain.InvalidGraphError{WorkflowID: "wf", Problems: []string{"one", "two"}}
	assert.Equal(t, "found 2 errors:\n- one\n- two", Describe(err))
}
