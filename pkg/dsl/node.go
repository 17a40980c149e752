package dsl

import (
	"github.com/aretw0/journey/pkg/domain"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	builder *Builder
}

func (n *NodeBuilder) set(key string, value any) *NodeBuilder {
	if n.node.Config == nil {
		n.node.Config = make(map[string]any)
	}
	n.node.Config[key] = value
	return n
}

// Kind sets the node kind.
func (n *NodeBuilder) Kind(kind domain.NodeKind) *NodeBuilder {
	n.node.Kind = kind
	return n
}

// Label sets the display label.
func (n *NodeBuilder) Label(label string) *NodeBuilder {
	n.node.Label = label
	return n
}

// Prompt sets the prompt template. Placeholders use the {{name}} form.
func (n *NodeBuilder) Prompt(text string) *NodeBuilder {
	return n.set("prompt", text)
}

// Config sets an arbitrary config key.
func (n *NodeBuilder) Config(key string, value any) *NodeBuilder {
	return n.set(key, value)
}

// Confirm makes the node wait for a yes/no confirmation before it runs.
func (n *NodeBuilder) Confirm() *NodeBuilder {
	return n.set("confirm", true)
}

// Policy overrides the node's execution policy.
func (n *NodeBuilder) Policy(p domain.Policy) *NodeBuilder {
	return n.set("policy", string(p))
}

// MaxRetries bounds how often a failed step is re-entered.
func (n *NodeBuilder) MaxRetries(max int) *NodeBuilder {
	return n.set("max_retries", max)
}

// NoRetry disables retries for the node.
func (n *NodeBuilder) NoRetry() *NodeBuilder {
	return n.set("retryable", false)
}

// Escalate selects what happens once retries are exhausted ("fail" or "skip").
func (n *NodeBuilder) Escalate(policy string) *NodeBuilder {
	return n.set("escalation", policy)
}

// Intervention sets the intervention type of a human-input node.
func (n *NodeBuilder) Intervention(t domain.InterventionType) *NodeBuilder {
	return n.set("intervention", string(t))
}

// Input names the variable a data-input node fills, declaring its type.
func (n *NodeBuilder) Input(variable string, t domain.VariableType) *NodeBuilder {
	n.set("input", variable)
	return n.Variable(variable, t, nil)
}

// Variable declares a node variable.
func (n *NodeBuilder) Variable(name string, t domain.VariableType, def any) *NodeBuilder {
	vars, _ := n.node.Config["variables"].(map[string]any)
	if vars == nil {
		vars = make(map[string]any)
		n.set("variables", vars)
	}
	spec := map[string]any{"type": string(t)}
	if def != nil {
		spec["default"] = def
	}
	vars[name] = spec
	return n
}

// Output extracts a workflow variable from step_completed data using a gjson path.
func (n *NodeBuilder) Output(variable, path string) *NodeBuilder {
	outs, _ := n.node.Config["outputs"].(map[string]any)
	if outs == nil {
		outs = make(map[string]any)
		n.set("outputs", outs)
	}
	outs[variable] = path
	return n
}

// Go adds an unconditional transition to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.builder.addEdge(domain.Edge{Source: n.node.ID, Target: target})
	return n
}

// Branch adds a guarded transition to the target node.
func (n *NodeBuilder) Branch(guard string, target string) *NodeBuilder {
	n.builder.addEdge(domain.Edge{Source: n.node.ID, Target: target, Guard: guard})
	return n
}

// Choice adds a transition the user selects by label.
func (n *NodeBuilder) Choice(label string, target string) *NodeBuilder {
	n.builder.addEdge(domain.Edge{Source: n.node.ID, Target: target, UserChoice: true, Label: label})
	return n
}

// Retry adds an explicit loop back to an earlier node.
func (n *NodeBuilder) Retry(guard string, target string) *NodeBuilder {
	n.builder.addEdge(domain.Edge{Source: n.node.ID, Target: target, Guard: guard, Retry: true})
	return n
}

// Build returns the underlying domain.Node.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Build() domain.Node {
	node := n.node
	node.Config = domain.CopyMap(n.node.Config)
	return node
}
