package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/dukex/loom/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveExecution_TerminalIsFinal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	execution := &models.WorkflowExecution{ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusRunning}
	require.NoError(t, store.SaveExecution(ctx, execution))

	execution.Status = models.ExecutionStatusSuccess
	require.NoError(t, store.SaveExecution(ctx, execution))

	execution.Status = models.ExecutionStatusRunning
	err := store.SaveExecution(ctx, execution)
	require.ErrorIs(t, err, persistence.ErrExecutionTerminal)

	stored, err := store.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
}

func TestExecutionByID_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	execution := &models.WorkflowExecution{ID: "exec-1", Status: models.ExecutionStatusRunning}
	execution.NodeExecution("a").OutputData = map[string]any{"x": 1}
	require.NoError(t, store.SaveExecution(ctx, execution))

	loaded, err := store.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)

	loaded.NodeExecutions["a"].OutputData["x"] = 2

	again, err := store.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.NodeExecutions["a"].OutputData["x"])

	_, err = store.ExecutionByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestTransitionInteraction_SingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.CreateInteraction(ctx, &models.HILInteraction{
		ID:     "int-1",
		Status: models.InteractionPending,
	}))

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)

	for i := range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			to := models.InteractionResponded
			if i%2 == 0 {
				to = models.InteractionTimeout
			}

			ok, err := store.TransitionInteraction(ctx, "int-1", to, nil, time.Now())
			assert.NoError(t, err)

			if ok {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	pending, err := store.PendingInteractions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLatestPendingInteraction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		require.NoError(t, store.CreateInteraction(ctx, &models.HILInteraction{
			ID:          id,
			ChannelType: models.ChannelSlack,
			Target:      "#ops",
			Status:      models.InteractionPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	latest, err := store.LatestPendingInteraction(ctx, models.ChannelSlack, "#ops")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)

	_, err = store.LatestPendingInteraction(ctx, models.ChannelEmail, "#ops")
	assert.True(t, persistence.IsInteractionNotFound(err))

	err = store.CreateInteraction(ctx, &models.HILInteraction{ID: "old"})
	require.ErrorIs(t, err, persistence.ErrInteractionExists)
}

func TestTriggerEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	entries := []*models.TriggerIndexEntry{
		{WorkflowID: "wf-1", TriggerNodeID: "t1", TriggerSubtype: models.TriggerCron, IndexKey: "0 9 * * *", DeploymentStatus: models.DeploymentActive},
		{WorkflowID: "wf-2", TriggerNodeID: "t1", TriggerSubtype: models.TriggerCron, IndexKey: "0 9 * * *", DeploymentStatus: models.DeploymentActive},
		{WorkflowID: "wf-2", TriggerNodeID: "t2", TriggerSubtype: models.TriggerWebhook, IndexKey: "/hook", DeploymentStatus: models.DeploymentActive},
	}
	for _, entry := range entries {
		require.NoError(t, store.UpsertEntry(ctx, entry))
	}

	matches, err := store.EntriesByKey(ctx, models.TriggerCron, "0 9 * * *")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "wf-1", matches[0].WorkflowID)

	require.NoError(t, store.SetWorkflowEntriesStatus(ctx, "wf-1", models.DeploymentInactive))

	matches, err = store.EntriesByKey(ctx, models.TriggerCron, "0 9 * * *")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-2", matches[0].WorkflowID)

	keys, err := store.ActiveKeys(ctx, models.TriggerCron)
	require.NoError(t, err)
	assert.Equal(t, []string{"0 9 * * *"}, keys)

	require.NoError(t, store.DeleteWorkflowEntries(ctx, "wf-2"))

	remaining, err := store.EntriesByWorkflow(ctx, "wf-2")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestTransitionPause(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SavePause(ctx, &models.WorkflowExecutionPause{
		ID:           "p1",
		ExecutionID:  "exec-1",
		PausedNodeID: "approve",
		Status:       models.PauseActive,
	}))

	pause, err := store.ActivePause(ctx, "exec-1", "approve")
	require.NoError(t, err)
	assert.Equal(t, "p1", pause.ID)

	ok, err := store.TransitionPause(ctx, "p1", models.PauseActive, models.PauseResumed, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TransitionPause(ctx, "p1", models.PauseActive, models.PauseResumed, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.ActivePause(ctx, "exec-1", "approve")
	require.ErrorIs(t, err, persistence.ErrPauseNotFound)
}
