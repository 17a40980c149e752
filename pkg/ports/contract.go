package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewExecutionState(sessionID, nil, 3)
		state.Status = domain.StatusRunning
		state.CurrentNodeID = "b"
		state.MarkCompleted("a")
		state.WorkflowContext["foo"] = "bar"
		state.UserInputs["count"] = 42

		err := store.Save(ctx, sessionID, state)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, domain.StatusRunning, loaded.Status)
		assert.Equal(t, "b", loaded.CurrentNodeID)
		assert.Equal(t, []string{"a"}, loaded.CompletedNodes)
		assert.Equal(t, "bar", loaded.WorkflowContext["foo"])
		// JSON persistence may turn ints into float64; existence is what matters here.
		assert.NotNil(t, loaded.UserInputs["count"])
	})

	t.Run("Loaded State Is Isolated", func(t *testing.T) {
		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		loaded.WorkflowContext["foo"] = "mutated"

		again, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "bar", again.WorkflowContext["foo"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.NewExecutionState(sessionID, nil, 1))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, domain.NewExecutionState(id1, nil, 1))
		_ = store.Save(ctx, id2, domain.NewExecutionState(id2, nil, 1))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}

// RunInterventionStoreContract verifies an InterventionStore implementation.
func RunInterventionStoreContract(t *testing.T, store InterventionStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	sessionID := "contract-iv-" + now.Format("20060102150405")

	pending := func(id, nodeID string, createdAt time.Time) *domain.Intervention {
		return &domain.Intervention{
			ID:        id,
			SessionID: sessionID,
			NodeID:    nodeID,
			Type:      domain.InterventionApproval,
			Status:    domain.InterventionPending,
			CreatedAt: createdAt,
			ExpiresAt: createdAt.Add(time.Hour),
			Payload:   map[string]any{"amount": "10"},
		}
	}

	t.Run("Create and Get", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, pending("iv-1", "b", now)))

		got, err := store.Get(ctx, "iv-1")
		require.NoError(t, err)
		assert.Equal(t, sessionID, got.SessionID)
		assert.Equal(t, domain.InterventionPending, got.Status)
		assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
	})

	t.Run("Duplicate Pending Rejected", func(t *testing.T) {
		err := store.Create(ctx, pending("iv-2", "b", now.Add(time.Second)))
		assert.ErrorIs(t, err, domain.ErrDuplicatePendingIntervention)

		list, err := store.ListBySession(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("Get Unknown", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Update Releases Pending Slot", func(t *testing.T) {
		got, err := store.Get(ctx, "iv-1")
		require.NoError(t, err)
		respondedAt := now.Add(time.Minute)
		got.Status = domain.InterventionResponded
		got.RespondedAt = &respondedAt
		require.NoError(t, store.Update(ctx, got))

		pendingList, err := store.ListPending(ctx)
		require.NoError(t, err)
		for _, iv := range pendingList {
			assert.NotEqual(t, "iv-1", iv.ID)
		}

		// The node may now receive a new request.
		require.NoError(t, store.Create(ctx, pending("iv-3", "b", now.Add(2*time.Minute))))

		list, err := store.ListBySession(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "iv-1", list[0].ID)
		assert.Equal(t, "iv-3", list[1].ID)
	})

	t.Run("Update Unknown", func(t *testing.T) {
		err := store.Update(ctx, pending("ghost", "z", now))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete Session", func(t *testing.T) {
		require.NoError(t, store.DeleteSession(ctx, sessionID))
		list, err := store.ListBySession(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = store.Get(ctx, "iv-3")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

// RunGraphLoaderContract verifies that a GraphLoader serves the expected workflows.
// expected maps workflow IDs to their node count.
func RunGraphLoaderContract(t *testing.T, loader GraphLoader, expected map[string]int) {
	t.Helper()
	ctx := context.Background()

	t.Run("LoadGraph", func(t *testing.T) {
		for id, nodes := range expected {
			g, err := loader.LoadGraph(ctx, id)
			require.NoError(t, err, "workflow %s", id)
			assert.Equal(t, id, g.WorkflowID)
			assert.Len(t, g.Nodes, nodes, "workflow %s", id)
		}
	})

	t.Run("LoadGraph NotFound", func(t *testing.T) {
		_, err := loader.LoadGraph(ctx, "non-existent-workflow")
		assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	})

	t.Run("ListWorkflows", func(t *testing.T) {
		ids, err := loader.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, len(expected))
		for id := range expected {
			assert.Contains(t, ids, id)
		}
	})
}
