package runtime_test

import (
	"sync"
	"testing"

	"github.com/aretw0/journey/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEvaluator(t *testing.T) {
	eval := runtime.NewExprEvaluator()
	env := map[string]any{
		"amount": 250.0,
		"status": "pending",
		"tags":   []any{"vip", "eu"},
		"user":   map[string]any{"tier": "gold"},
	}

	tests := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{"comparison", "amount > 100", true, false},
		{"string equality", "status == 'pending'", true, false},
		{"boolean logic", "amount > 100 && status != 'done'", true, false},
		{"membership", "'vip' in tags", true, false},
		{"nested field", "user.tier == 'gold'", true, false},
		{"undefined is nil", "missing == nil", true, false},
		{"false result", "amount < 10", false, false},
		{"non boolean", "amount + 1", false, true},
		{"syntax error", "amount >", false, true},
		{"type mismatch", "status > 3", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Evaluate(tt.expr, env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprEvaluator_Check(t *testing.T) {
	eval := runtime.NewExprEvaluator()
	assert.NoError(t, eval.Check("amount > 100"))
	assert.Error(t, eval.Check("amount >"))
}

func TestExprEvaluator_ConcurrentUse(t *testing.T) {
	eval := runtime.NewExprEvaluator()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := eval.Evaluate("n % 2 == 0", map[string]any{"n": i})
			assert.NoError(t, err)
			assert.Equal(t, i%2 == 0, ok)
		}(i)
	}
	wg.Wait()
}
