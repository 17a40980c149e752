package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"testing"

	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/persistence/middleware"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunStateStoreContract(t, mw(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := NewMockStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	sessionID := "test-session"
	originalState := domain.NewExecutionState(sessionID, nil, 2)
	originalState.WorkflowID = "refund"
	originalState.Status = domain.StatusRunning
	originalState.UserInputs["secret"] = "my-secret-sauce"
	originalState.Seq = 7

	require.NoError(t, secureStore.Save(ctx, sessionID, originalState))

	storedState, err := underlyingStore.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, storedState.UserInputs, "inputs must be hidden in the envelope")
	assert.Contains(t, storedState.WorkflowContext, "__encrypted__")
	assert.Equal(t, domain.StatusRunning, storedState.Status)
	assert.Equal(t, "refund", storedState.WorkflowID)
	assert.Equal(t, uint64(7), storedState.Seq)

	loadedState, err := secureStore.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "my-secret-sauce", loadedState.UserInputs["secret"])
	assert.Equal(t, 2, loadedState.TotalNodes)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := NewMockStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	sessionID := "rotation-session"
	originalState := domain.NewExecutionState(sessionID, nil, 1)
	originalState.WorkflowContext["data"] = "encrypted-with-old-key"
	require.NoError(t, secureStoreOld.Save(ctx, sessionID, originalState))

	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loadedState, err := secureStoreNew.Load(ctx, sessionID)
	require.NoError(t, err, "fallback key should decrypt")
	assert.Equal(t, "encrypted-with-old-key", loadedState.WorkflowContext["data"])

	loadedState.WorkflowContext["data"] = "encrypted-with-new-key"
	require.NoError(t, secureStoreNew.Save(ctx, sessionID, loadedState))

	_, err = secureStoreOld.Load(ctx, sessionID)
	assert.Error(t, err, "old key alone cannot read new-key envelopes")
}

func TestEncryptionMiddleware_RejectsPlainState(t *testing.T) {
	underlyingStore := NewMockStore()
	require.NoError(t, underlyingStore.Save(context.Background(), "plain", domain.NewExecutionState("plain", nil, 1)))

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	_, err := secureStore.Load(context.Background(), "plain")
	assert.ErrorIs(t, err, middleware.ErrMissingEnvelope)
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)
	parsed, err := middleware.ParseKey(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = middleware.ParseKey("abcd")
	assert.ErrorIs(t, err, middleware.ErrInvalidKey)

	_, err = middleware.ParseKey("not-hex")
	assert.Error(t, err)
}
