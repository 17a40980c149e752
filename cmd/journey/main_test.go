package main

import (
	"bytes"
	"testing"

	"github.com/aretw0/journey/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderYAML = `
nodes:
  - id: pick
    kind: action
  - id: check
    kind: condition
  - id: ship
    kind: action
  - id: done
    kind: terminal
edges:
  - source: pick
    target: check
  - source: check
    target: ship
    guard: "total > 10"
  - source: check
    target: done
  - source: ship
    target: done
`

const brokenYAML = `
nodes:
  - id: a
    kind: action
edges:
  - source: a
    target: nowhere
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "journey version ")
}

func TestValidateCommand(t *testing.T) {
	dir := testutils.WorkflowDir(t, map[string]string{"order.yaml": orderYAML})
	out, err := execute(t, "validate", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow 'order' is valid!")

	dir = testutils.WorkflowDir(t, map[string]string{"order.yaml": orderYAML, "broken.yaml": brokenYAML})
	out, err = execute(t, "validate", "--dir", dir)
	assert.Error(t, err)
	assert.Contains(t, out, "Workflow 'broken' is invalid")
	assert.Contains(t, out, "nowhere")
}

func TestGraphCommand(t *testing.T) {
	dir := testutils.WorkflowDir(t, map[string]string{"order.yaml": orderYAML})
	out, err := execute(t, "graph", "order", "--dir", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "check{\"check\"}")
	assert.Contains(t, out, "check -- \"total > 10\" --> ship")
	assert.Contains(t, out, "done((\"done\"))")
}
