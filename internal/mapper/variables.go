package mapper

import (
	"regexp"
	"sort"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/tidwall/gjson"
)

var placeholder = regexp.MustCompile(`\{\{\s*\.?([A-Za-z_][A-Za-z0-9_]*)(?:\.[A-Za-z0-9_.]+)?\s*\}\}`)

// References returns the variable names used as {{name}} placeholders in text, in order of appearance.
func References(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

var typeAliases = map[string]domain.VariableType{
	"":         domain.VarString,
	"string":   domain.VarString,
	"text":     domain.VarString,
	"number":   domain.VarNumber,
	"float":    domain.VarNumber,
	"decimal":  domain.VarNumber,
	"integer":  domain.VarInteger,
	"int":      domain.VarInteger,
	"boolean":  domain.VarBoolean,
	"bool":     domain.VarBoolean,
	"date":     domain.VarDate,
	"datetime": domain.VarDate,
	"enum":     domain.VarEnum,
	"choice":   domain.VarEnum,
	"list":     domain.VarList,
	"array":    domain.VarList,
	"object":   domain.VarObject,
	"map":      domain.VarObject,
	"json":     domain.VarObject,
}

// ResolveType maps a declared type name onto its conversational representation.
func ResolveType(name string) (domain.VariableType, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

func mapVariables(g *domain.Graph, configs map[string]domain.NodeConfig) ([]domain.VariableMapping, error) {
	var out []domain.VariableMapping

	for _, n := range g.Nodes {
		cfg := configs[n.ID]

		names := make(map[string]domain.VariableSpec, len(cfg.Variables))
		for name, spec := range cfg.Variables {
			names[name] = spec
		}
		if cfg.Input != "" {
			if _, ok := names[cfg.Input]; !ok {
				names[cfg.Input] = domain.VariableSpec{}
			}
		}
		for _, ref := range scanConfig(n.Config) {
			if _, ok := names[ref]; !ok {
				names[ref] = domain.VariableSpec{}
			}
		}

		ordered := make([]string, 0, len(names))
		for name := range names {
			ordered = append(ordered, name)
		}
		sort.Strings(ordered)

		for _, name := range ordered {
			spec := names[name]
			t, ok := ResolveType(spec.Type)
			if !ok {
				return nil, &domain.UnmappableVariableError{NodeID: n.ID, Variable: name, Type: spec.Type}
			}
			out = append(out, domain.VariableMapping{
				NodeID:   n.ID,
				Variable: name,
				Slot:     SlotName(n.ID, name),
				Type:     t,
				Default:  parseDefault(spec.Default, t),
				Options:  append([]string(nil), spec.Options...),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].Variable < out[j].Variable
	})
	return out, nil
}

// scanConfig collects placeholder references from every string value of the config.
func scanConfig(cfg map[string]any) []string {
	var refs []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			refs = append(refs, References(t)...)
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		}
	}
	walk(cfg)
	return refs
}

// parseDefault decodes JSON literal defaults ("42", "true", "[1,2]") for non-string types.
func parseDefault(v any, t domain.VariableType) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch t {
	case domain.VarString, domain.VarDate, domain.VarEnum:
		return s
	}
	if !gjson.Valid(s) {
		return s
	}
	return gjson.Parse(s).Value()
}
