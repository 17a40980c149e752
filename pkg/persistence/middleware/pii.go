package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

// Mask replaces the value of every matching key.
const Mask = "***"

type piiMiddleware struct {
	next     ports.StateStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of keys matching the patterns
// in the user inputs, journey context and workflow context. Masked values are not
// recoverable on Load.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns, err := CompilePatterns(patternStrings)
	if err != nil {
		panic(err)
	}
	return func(next ports.StateStore) ports.StateStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

// CompilePatterns compiles key patterns, reporting the first invalid one.
func CompilePatterns(patternStrings []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pii pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return patterns, nil
}

func (m *piiMiddleware) Save(ctx context.Context, sessionID string, state *domain.ExecutionState) error {
	// The engine keeps using the unmasked state in memory.
	cloned := state.Clone()
	maskMap(cloned.UserInputs, m.patterns)
	maskMap(cloned.JourneyContext, m.patterns)
	maskMap(cloned.WorkflowContext, m.patterns)

	return m.next.Save(ctx, sessionID, cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (*domain.ExecutionState, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if masked {
			continue
		}

		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
