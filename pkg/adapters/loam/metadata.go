package loam

// WorkflowMetadata is the frontmatter of a workflow document.
// It uses "mapstructure" tags to match the YAML keys authors write.
type WorkflowMetadata struct {
	WorkflowID string `json:"workflow_id" mapstructure:"workflow_id"`
	Name       string `json:"name" mapstructure:"name"`
	Entry      string `json:"entry" mapstructure:"entry"`

	Nodes []NodeMetadata `json:"nodes" mapstructure:"nodes"`

	// Edges are explicit edges, appended after the ones declared on nodes.
	Edges []EdgeMetadata `json:"edges" mapstructure:"edges"`
}

// NodeMetadata declares a node and, optionally, its outgoing edges.
type NodeMetadata struct {
	ID     string         `json:"id" mapstructure:"id"`
	Kind   string         `json:"kind" mapstructure:"kind"`
	Label  string         `json:"label" mapstructure:"label"`
	Config map[string]any `json:"config" mapstructure:"config"`

	// To is sugar for a single unconditional edge.
	To string `json:"to" mapstructure:"to"`

	Transitions []LoaderTransition `json:"transitions" mapstructure:"transitions"`

	// Options become user-choice edges labelled with their Text.
	Options []LoaderTransition `json:"options" mapstructure:"options"`
}

// LoaderTransition is an edge declared on its source node.
type LoaderTransition struct {
	ID     string `json:"id" mapstructure:"id"`
	To     string `json:"to" mapstructure:"to"`
	ToFull string `json:"target" mapstructure:"target"`

	// Guard and Condition are aliases.
	Guard     string `json:"guard" mapstructure:"guard"`
	Condition string `json:"condition" mapstructure:"condition"`

	Retry bool   `json:"retry" mapstructure:"retry"`
	Text  string `json:"text" mapstructure:"text"`
}

// EdgeMetadata is a free-standing edge.
type EdgeMetadata struct {
	ID         string `json:"id" mapstructure:"id"`
	Source     string `json:"source" mapstructure:"source"`
	Target     string `json:"target" mapstructure:"target"`
	Guard      string `json:"guard" mapstructure:"guard"`
	Retry      bool   `json:"retry" mapstructure:"retry"`
	UserChoice bool   `json:"user_choice" mapstructure:"user_choice"`
	Label      string `json:"label" mapstructure:"label"`
}
