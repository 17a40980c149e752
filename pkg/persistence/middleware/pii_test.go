package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := NewMockStore()
	// Mask keys containing "password" or "ssn"
	secureStore := middleware.NewPIIMiddleware([]string{"password", "ssn"})(underlyingStore)

	ctx := context.Background()
	sessionID := "pii-session"
	state := domain.NewExecutionState(sessionID, nil, 1)

	state.UserInputs["username"] = "jdoe"
	state.UserInputs["user_password"] = "secret123"
	state.JourneyContext["details"] = map[string]any{
		"address":    "123 St",
		"ssn_number": "999-99-9999",
	}
	state.WorkflowContext["ssn"] = map[string]any{"full": "999-99-9999"}

	require.NoError(t, secureStore.Save(ctx, sessionID, state))
	assert.Equal(t, "secret123", state.UserInputs["user_password"], "in-memory state must not change")

	storedState, err := underlyingStore.Load(ctx, sessionID)
	require.NoError(t, err)

	assert.Equal(t, "jdoe", storedState.UserInputs["username"])
	assert.Equal(t, middleware.Mask, storedState.UserInputs["user_password"])

	details := storedState.JourneyContext["details"].(map[string]any)
	assert.Equal(t, "123 St", details["address"])
	assert.Equal(t, middleware.Mask, details["ssn_number"])
	assert.Equal(t, middleware.Mask, storedState.WorkflowContext["ssn"])
}

func TestPIIMiddleware_ChainedWithEncryption(t *testing.T) {
	underlyingStore := NewMockStore()
	store := middleware.Chain(underlyingStore,
		middleware.NewPIIMiddleware([]string{"card"}),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)}),
	)

	ctx := context.Background()
	state := domain.NewExecutionState("s1", nil, 1)
	state.UserInputs["card_number"] = "4111"
	state.UserInputs["amount"] = 10
	require.NoError(t, store.Save(ctx, "s1", state))

	raw, err := underlyingStore.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, raw.UserInputs)

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.UserInputs["card_number"])
	assert.EqualValues(t, 10, loaded.UserInputs["amount"])
}

func TestCompilePatterns(t *testing.T) {
	_, err := middleware.CompilePatterns([]string{"ok", "(bad"})
	assert.Error(t, err)
}
