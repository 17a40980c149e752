package runtime

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
)

var placeholder = regexp.MustCompile(`\{\{\s*\.?([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// Environment builds the variable set guards and prompts see.
// Workflow context keys are top level. Node variables are visible both by slot and by
// bare name (first binding wins); unset slots fall back to their mapped default.
func Environment(def *domain.JourneyDefinition, s *domain.ExecutionState) map[string]any {
	env := make(map[string]any, len(s.WorkflowContext)+len(s.UserInputs)+6)
	for k, v := range s.WorkflowContext {
		env[k] = v
	}

	if def != nil {
		for _, v := range def.ContextVariables {
			val, ok := s.UserInputs[v.Slot]
			if !ok {
				if v.Default == nil {
					continue
				}
				val = v.Default
			}
			env[v.Slot] = val
			if _, taken := env[v.Variable]; !taken {
				env[v.Variable] = val
			}
		}
	}
	for k, v := range s.UserInputs {
		if _, taken := env[k]; !taken {
			env[k] = v
		}
	}

	env["workflow"] = s.WorkflowContext
	env["journey"] = s.JourneyContext
	env["inputs"] = s.UserInputs
	env["choices"] = s.Choices
	env["failures"] = s.NodeFailures
	env["errors"] = s.ErrorCount
	return env
}

// RenderPrompt replaces {{name}} and {{name.path}} placeholders with values from env.
// Unknown placeholders are left as written.
func RenderPrompt(template string, env map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		val, ok := lookup(env, strings.Split(path, "."))
		if !ok {
			return m
		}
		return format(val)
	})
}

func lookup(env map[string]any, path []string) (any, bool) {
	var cur any = env
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
