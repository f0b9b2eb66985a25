package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("convoflow_test"),
			postgres.WithUsername("convoflow"),
			postgres.WithPassword("convoflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx, databaseURL
}

func testWorkflow(creatorID, id string, active bool) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		CreatorID:   creatorID,
		Name:        "Greeting",
		IsActive:    active,
		Triggers:    []models.Trigger{{Type: models.TriggerAlways}},
		StartNodeID: "start",
		Nodes: map[string]*models.Node{
			"start": {ID: "start", Type: models.NodeTypeStart, Data: models.StartData{}},
			"end":   {ID: "end", Type: models.NodeTypeEnd, Data: models.EndData{}},
		},
		Edges:         []models.Edge{{ID: "e1", Source: "start", Target: "end"}},
		SchemaVersion: models.CurrentSchemaVersion,
		Revision:      1,
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'workflows')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "workflows table should exist")

	var versions []int

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	require.NoError(t, err)

	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))

		versions = append(versions, v)
	}

	require.NoError(t, rows.Close())
	assert.Equal(t, []int{1, 2}, versions)
}

func TestNewPersistence_MigrationsAreRerunnable(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)
	require.NoError(t, p.HealthCheck(ctx))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	again, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))
}

func TestWorkflowRepository_SaveGetDelete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := testWorkflow("creator-1", "wf-1", true)
	require.NoError(t, repo.Save(ctx, workflow))

	got, err := repo.GetByID(ctx, "creator-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Greeting", got.Name)
	assert.Equal(t, models.NodeTypeEnd, got.Node("end").Type)

	workflow.Name = "Renamed"
	workflow.Revision = 2
	require.NoError(t, repo.Save(ctx, workflow))

	got, err = repo.GetByID(ctx, "creator-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, 2, got.Revision)

	require.NoError(t, repo.Delete(ctx, "creator-1", "wf-1"))

	_, err = repo.GetByID(ctx, "creator-1", "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.True(t, persistence.IsWorkflowNotFound(repo.Delete(ctx, "creator-1", "wf-1")))
}

func TestWorkflowRepository_ListDocuments(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.Workflows()

	require.NoError(t, repo.Save(ctx, testWorkflow("creator-2", "b", true)))
	require.NoError(t, repo.Save(ctx, testWorkflow("creator-2", "a", false)))
	require.NoError(t, repo.PutDocument(ctx, "creator-1", "legacy", map[string]any{
		"name":     "Legacy",
		"isActive": true,
		"nodes":    []any{map[string]any{"id": "start", "type": "start"}},
	}))

	creators, err := repo.ListCreators(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"creator-1", "creator-2"}, creators)

	creators, err = repo.ListCreators(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"creator-1"}, creators)

	docs, err := repo.ListDocuments(ctx, "creator-2", persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)

	docs, err = repo.ListDocuments(ctx, "creator-2", persistence.ListOptions{OnlyActive: true, Limit: 5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID)

	legacy, err := repo.ListDocuments(ctx, "creator-1", persistence.ListOptions{OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	assert.IsType(t, []any{}, legacy[0].Data["nodes"])

	workflows, err := repo.ListByCreator(ctx, "creator-1")
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestWorkflowRepository_Batch(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	batch := repo.NewBatch()
	for _, id := range []string{"a", "b", "c"} {
		batch.Put(testWorkflow("creator-1", id, true))
	}

	require.NoError(t, batch.Commit(ctx))
	assert.Zero(t, batch.Len())

	workflows, err := repo.ListByCreator(ctx, "creator-1")
	require.NoError(t, err)
	assert.Len(t, workflows, 3)
}
