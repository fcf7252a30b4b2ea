package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/dukex/loom/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{
		"trigger_index_entries", "hil_responses", "hil_interactions", "workflow_execution_pauses",
		"node_executions", "workflow_executions", "workflows", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("loom_test"),
			postgres.WithUsername("loom"),
			postgres.WithPassword("loom"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx
}

func TestWorkflowRoundTrip(t *testing.T) {
	store, ctx := setupTestDB(t)

	workflow := &models.Workflow{
		ID:   uuid.NewString(),
		Name: "Daily report",
		Nodes: []*models.Node{
			{
				ID:            "t",
				Name:          "Every morning",
				Type:          models.NodeTypeTrigger,
				Subtype:       "CRON",
				Configuration: map[string]any{"cron_expression": "0 9 * * *"},
			},
			{ID: "log", Name: "Log", Type: models.NodeTypeAction, Subtype: "LOG"},
		},
		Connections: []*models.Connection{{FromNode: "t", ToNode: "log", Type: models.ConnectionTypeMain}},
	}

	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	loaded, err := store.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Daily report", loaded.Name)
	require.Len(t, loaded.Connections, 1)
	assert.Equal(t, "log", loaded.Connections[0].ToNode)

	_, err = store.WorkflowByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestSaveExecution_TerminalIsFinal(t *testing.T) {
	store, ctx := setupTestDB(t)

	execution := &models.WorkflowExecution{
		ID:             uuid.NewString(),
		WorkflowID:     "wf",
		TriggerNodeID:  "t",
		Status:         models.ExecutionStatusRunning,
		TriggerPayload: map[string]any{"k": "v"},
		CreatedAt:      time.Now().UTC(),
	}
	ne := execution.NodeExecution("t")
	ne.Status = models.NodeExecutionCompleted
	ne.OutputData = map[string]any{"k": "v"}
	ne.ActiveOutputs = []string{"result"}

	require.NoError(t, store.SaveExecution(ctx, execution))

	execution.Status = models.ExecutionStatusSuccess
	require.NoError(t, store.SaveExecution(ctx, execution))

	execution.Status = models.ExecutionStatusRunning
	err := store.SaveExecution(ctx, execution)
	require.ErrorIs(t, err, persistence.ErrExecutionTerminal)

	loaded, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, loaded.Status)
	assert.Equal(t, "v", loaded.NodeExecutions["t"].OutputData["k"])
	assert.Equal(t, []string{"result"}, loaded.NodeExecutions["t"].ActiveOutputs)
}

func TestInteractionTransitions(t *testing.T) {
	store, ctx := setupTestDB(t)

	interaction := &models.HILInteraction{
		ID:              uuid.NewString(),
		WorkflowID:      "wf",
		ExecutionID:     "exec",
		NodeID:          "approve",
		InteractionType: models.InteractionTypeApproval,
		ChannelType:     models.ChannelSlack,
		Target:          "#ops",
		Status:          models.InteractionPending,
		TimeoutAt:       time.Now().UTC().Add(time.Hour),
		TimeoutAction:   models.TimeoutActionFail,
		CreatedAt:       time.Now().UTC(),
	}
	interaction.CorrelationToken = interaction.ID

	require.NoError(t, store.CreateInteraction(ctx, interaction))
	require.ErrorIs(t, store.CreateInteraction(ctx, interaction), persistence.ErrInteractionExists)

	sent, err := store.MarkWarningSent(ctx, interaction.ID)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = store.MarkWarningSent(ctx, interaction.ID)
	require.NoError(t, err)
	assert.False(t, sent)

	latest, err := store.LatestPendingInteraction(ctx, models.ChannelSlack, "#ops")
	require.NoError(t, err)
	assert.Equal(t, interaction.ID, latest.ID)

	won, err := store.TransitionInteraction(ctx, interaction.ID, models.InteractionResponded, map[string]any{"approved": true}, time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.TransitionInteraction(ctx, interaction.ID, models.InteractionTimeout, nil, time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	loaded, err := store.InteractionByID(ctx, interaction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InteractionResponded, loaded.Status)
	assert.Equal(t, true, loaded.ResponseData["approved"])
}

func TestTriggerIndexEntries(t *testing.T) {
	store, ctx := setupTestDB(t)

	now := time.Now().UTC()

	for _, wf := range []string{"wf-1", "wf-2"} {
		require.NoError(t, store.UpsertEntry(ctx, &models.TriggerIndexEntry{
			WorkflowID:       wf,
			TriggerNodeID:    "t",
			TriggerSubtype:   models.TriggerWebhook,
			IndexKey:         "/orders",
			TriggerConfig:    map[string]any{"path": "/orders"},
			DeploymentStatus: models.DeploymentActive,
			DeployedAt:       now,
			UpdatedAt:        now,
		}))
	}

	entries, err := store.EntriesByKey(ctx, models.TriggerWebhook, "/orders")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, store.SetEntryStatus(ctx, "wf-1", "/orders", models.DeploymentInactive))

	keys, err := store.ActiveKeys(ctx, models.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, []string{"/orders"}, keys)

	entries, err = store.EntriesByKey(ctx, models.TriggerWebhook, "/orders")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wf-2", entries[0].WorkflowID)

	require.NoError(t, store.DeleteWorkflowEntries(ctx, "wf-2"))

	entries, err = store.EntriesByKey(ctx, models.TriggerWebhook, "/orders")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
