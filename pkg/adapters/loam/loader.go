// Package loam loads workflows stored as Loam documents.
//
// Each document is one workflow. The frontmatter declares the nodes and edges;
// the body is free-form documentation whose first heading names the workflow
// when the frontmatter does not.
//
//	---
//	workflow_id: refund
//	nodes:
//	  - id: review
//	    kind: human-input
//	    options:
//	      - {text: Approve, to: pay}
//	      - {text: Reject, to: close}
//	  - {id: pay, kind: action, to: close}
//	  - {id: close, kind: terminal}
//	---
//	# Refund approval
package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/loam"
)

// Loader adapts a Loam repository to the ports.GraphLoader interface.
type Loader struct {
	Repo *loam.TypedRepository[WorkflowMetadata]
}

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[WorkflowMetadata]) *Loader {
	return &Loader{
		Repo: repo,
	}
}

// Open initializes a read-only, strict Loam repository at path and wraps it.
// Strict mode keeps numbers as json.Number so large integers survive decoding.
func Open(path string) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[WorkflowMetadata](repo)), nil
}

// LoadGraph returns the workflow whose normalized id matches workflowID.
func (l *Loader) LoadGraph(ctx context.Context, workflowID string) (*domain.Graph, error) {
	docs, err := l.index(ctx)
	if err != nil {
		return nil, err
	}
	doc, ok := docs[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
	}
	return buildGraph(workflowID, doc.meta, doc.content), nil
}

// ListWorkflows lists all workflows in the repository.
func (l *Loader) ListWorkflows(ctx context.Context) ([]string, error) {
	docs, err := l.index(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type document struct {
	path    string
	meta    WorkflowMetadata
	content string
}

// index maps normalized workflow ids to documents. Two documents resolving to the
// same id are an error.
func (l *Loader) index(ctx context.Context) (map[string]document, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	out := make(map[string]document, len(docs))
	for _, doc := range docs {
		rawID := doc.Data.WorkflowID
		if rawID == "" {
			rawID = doc.ID
		}
		id := trimExtension(rawID)

		if existing, ok := out[id]; ok {
			return nil, fmt.Errorf("collision detected: workflow '%s' is defined in both '%s' and '%s'", id, existing.path, doc.ID)
		}
		out[id] = document{path: doc.ID, meta: doc.Data, content: doc.Content}
	}
	return out, nil
}

func buildGraph(workflowID string, meta WorkflowMetadata, content string) *domain.Graph {
	g := &domain.Graph{
		WorkflowID: workflowID,
		Name:       meta.Name,
		Entry:      meta.Entry,
		Nodes:      make([]domain.Node, 0, len(meta.Nodes)),
	}
	if g.Name == "" {
		g.Name = heading(content)
	}

	for _, n := range meta.Nodes {
		g.Nodes = append(g.Nodes, domain.Node{
			ID:     n.ID,
			Kind:   domain.NodeKind(n.Kind),
			Label:  n.Label,
			Config: n.Config,
		})
		g.Edges = append(g.Edges, nodeEdges(n)...)
	}

	for _, e := range meta.Edges {
		g.Edges = append(g.Edges, domain.Edge{
			ID:         e.ID,
			Source:     e.Source,
			Target:     e.Target,
			Guard:      e.Guard,
			Retry:      e.Retry,
			UserChoice: e.UserChoice,
			Label:      e.Label,
		})
	}

	g.AssignEdgeIDs()
	return g
}

// nodeEdges expands the edge sugar of a node: options first, then transitions, then To.
func nodeEdges(n NodeMetadata) []domain.Edge {
	convert := func(lt LoaderTransition) domain.Edge {
		to := lt.To
		if to == "" {
			to = lt.ToFull
		}
		guard := lt.Guard
		if guard == "" {
			guard = lt.Condition
		}
		return domain.Edge{
			ID:     lt.ID,
			Source: n.ID,
			Target: to,
			Guard:  guard,
			Retry:  lt.Retry,
			Label:  lt.Text,
		}
	}

	edges := make([]domain.Edge, 0, len(n.Options)+len(n.Transitions)+1)
	for _, opt := range n.Options {
		e := convert(opt)
		e.UserChoice = true
		edges = append(edges, e)
	}
	for _, lt := range n.Transitions {
		edges = append(edges, convert(lt))
	}
	if n.To != "" {
		edges = append(edges, domain.Edge{Source: n.ID, Target: n.To})
	}
	return edges
}

func heading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

// Watch emits the id of every changed workflow document until ctx is done.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	events, err := l.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- trimExtension(evt.ID):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
