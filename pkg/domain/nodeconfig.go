package domain

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Escalation values for exhausted retries, rejected approvals and expired interventions.
const (
	EscalateFail = "fail"
	EscalateSkip = "skip"
)

// VariableSpec declares a node variable. In config it may be written as a bare type name.
type VariableSpec struct {
	Type    string   `mapstructure:"type"`
	Default any      `mapstructure:"default"`
	Options []string `mapstructure:"options"`
}

// NodeConfig is the typed view of Node.Config.
type NodeConfig struct {
	Prompt       string           `mapstructure:"prompt"`
	Policy       Policy           `mapstructure:"policy"`
	Confirm      bool             `mapstructure:"confirm"`
	MaxRetries   *int             `mapstructure:"max_retries"`
	Retryable    *bool            `mapstructure:"retryable"`
	Escalation   string           `mapstructure:"escalation"`
	OnReject     string           `mapstructure:"on_reject"`
	Intervention InterventionType `mapstructure:"intervention"`
	Timeout      time.Duration    `mapstructure:"timeout"`

	// Input names the variable a data-input intervention fills.
	Input string `mapstructure:"input"`

	Variables map[string]VariableSpec `mapstructure:"variables"`

	// Outputs maps workflow variables to JSON paths into step_completed data.
	Outputs map[string]string `mapstructure:"outputs"`
}

// DecodeNodeConfig decodes an opaque config map. Unknown keys are ignored.
func DecodeNodeConfig(raw map[string]any) (NodeConfig, error) {
	var cfg NodeConfig
	if len(raw) == 0 {
		return cfg, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			variableShorthandHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("decode node config: %w", err)
	}
	return cfg, nil
}

func variableShorthandHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(VariableSpec{}) || from.Kind() != reflect.String {
		return data, nil
	}
	return map[string]any{"type": data}, nil
}

// EffectivePolicy resolves the execution policy of a node of the given kind.
func (c NodeConfig) EffectivePolicy(kind NodeKind) Policy {
	if c.Policy.Valid() {
		return c.Policy
	}
	if kind == KindHumanInput {
		return PolicyRequiresHumanApproval
	}
	if c.Confirm {
		return PolicyRequiresConfirmation
	}
	return PolicyAuto
}

// RetryLimit returns how many times a failed step is re-entered before escalating.
func (c NodeConfig) RetryLimit(fallback int) int {
	if c.Retryable != nil && !*c.Retryable {
		return 0
	}
	if c.MaxRetries != nil {
		return *c.MaxRetries
	}
	return fallback
}

// EscalationPolicy returns EscalateSkip or EscalateFail.
func (c NodeConfig) EscalationPolicy() string {
	if c.Escalation == EscalateSkip {
		return EscalateSkip
	}
	return EscalateFail
}

// RejectPolicy returns what a rejected approval does to the node.
func (c NodeConfig) RejectPolicy() string {
	if c.OnReject == EscalateSkip {
		return EscalateSkip
	}
	return EscalateFail
}

// InterventionKind returns the intervention type of a human-input node.
func (c NodeConfig) InterventionKind() InterventionType {
	if c.Intervention.Valid() {
		return c.Intervention
	}
	if c.Input != "" {
		return InterventionDataInput
	}
	return InterventionApproval
}
