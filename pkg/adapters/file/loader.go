package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Loader implements ports.GraphLoader over a directory of YAML workflow files.
// Each file holds one graph; the file name (without extension) is the workflow id
// unless the document sets workflow_id itself.
//
//	workflow_id: refund
//	nodes:
//	  - {id: review, kind: human-input}
//	  - {id: pay, kind: action}
//	edges:
//	  - {source: review, target: pay}
type Loader struct {
	Dir string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

var extensions = []string{".yaml", ".yml"}

// LoadGraph reads and decodes <dir>/<workflowID>.yaml.
func (l *Loader) LoadGraph(ctx context.Context, workflowID string) (*domain.Graph, error) {
	if workflowID == "" || strings.ContainsAny(workflowID, `/\`) {
		return nil, fmt.Errorf("%w: %q", domain.ErrWorkflowNotFound, workflowID)
	}

	for _, ext := range extensions {
		data, err := os.ReadFile(filepath.Join(l.Dir, workflowID+ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow %s: %w", workflowID, err)
		}
		return Decode(workflowID, data)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
}

// ListWorkflows returns the ids of the YAML files in the directory.
func (l *Loader) ListWorkflows(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	seen := make(map[string]bool)
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Decode parses a YAML workflow document. Edges without an id get "<source>-<target>",
// suffixed with a counter when the pair repeats.
func Decode(workflowID string, data []byte) (*domain.Graph, error) {
	var g domain.Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", workflowID, err)
	}
	if g.WorkflowID == "" {
		g.WorkflowID = workflowID
	}

	g.AssignEdgeIDs()
	return &g, nil
}
