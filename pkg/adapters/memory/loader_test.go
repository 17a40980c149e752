package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLoader_Contract(t *testing.T) {
	loader := memory.NewLoader(map[string]string{
		"onboarding": `{"workflow_id":"onboarding","nodes":[{"id":"a","kind":"action"},{"id":"b","kind":"terminal"}],"edges":[{"id":"e1","source":"a","target":"b"}]}`,
		"refund":     `{"nodes":[{"id":"only","kind":"terminal"}]}`,
	})

	ports.RunGraphLoaderContract(t, loader, map[string]int{
		"onboarding": 2,
		"refund":     1,
	})
}

func TestInMemoryLoader_PutIsolation(t *testing.T) {
	g := &domain.Graph{
		WorkflowID: "wf",
		Nodes:      []domain.Node{{ID: "a", Kind: domain.KindTerminal}},
	}
	loader, err := memory.NewFromGraphs(g)
	require.NoError(t, err)

	// Mutating the original must not leak into the loader.
	g.Nodes[0].Label = "changed"

	loaded, err := loader.LoadGraph(context.Background(), "wf")
	require.NoError(t, err)
	assert.Empty(t, loaded.Nodes[0].Label)

	loaded.Nodes = append(loaded.Nodes, domain.Node{ID: "x"})
	again, err := loader.LoadGraph(context.Background(), "wf")
	require.NoError(t, err)
	assert.Len(t, again.Nodes, 1)
}
