package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

func testWorkflow(creatorID, id string) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		CreatorID:   creatorID,
		Name:        "Greeting",
		IsActive:    true,
		Triggers:    []models.Trigger{{Type: models.TriggerAlways}},
		StartNodeID: "start",
		Nodes: map[string]*models.Node{
			"start": {ID: "start", Type: models.NodeTypeStart, Data: models.StartData{}},
			"greet": {ID: "greet", Type: models.NodeTypeMessage, Data: models.MessageData{Message: "Hi"}},
		},
		Edges:         []models.Edge{{ID: "e1", Source: "start", Target: "greet"}},
		SchemaVersion: models.CurrentSchemaVersion,
		Revision:      1,
		CompiledAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", p.root)

	p = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", p.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
	assert.NoError(t, NewPersistence(t.TempDir()).Close(t.Context()))
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	repo := NewPersistence(dir).WorkflowRepository()

	require.NoError(t, repo.Save(ctx, testWorkflow("creator-1", "wf-1")))

	_, err := os.Stat(filepath.Join(dir, "creators", "creator-1", "workflows", "wf-1.json"))
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, "creator-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Greeting", got.Name)
	assert.Equal(t, models.MessageData{Message: "Hi"}, got.Node("greet").Data)
	assert.Len(t, got.Edges, 1)

	_, err = repo.GetByID(ctx, "creator-1", "nope")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_RejectsPathTraversal(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	_, err := repo.GetByID(t.Context(), "../etc", "passwd")
	assert.Error(t, err)

	err = repo.Save(t.Context(), testWorkflow("creator-1", "a/b"))
	assert.Error(t, err)
}

func TestWorkflowRepository_ListDocumentsAndCreators(t *testing.T) {
	ctx := t.Context()
	repo := NewWorkflowRepository(t.TempDir())

	creators, err := repo.ListCreators(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, creators)

	inactive := testWorkflow("creator-1", "b")
	inactive.IsActive = false

	require.NoError(t, repo.Save(ctx, testWorkflow("creator-1", "a")))
	require.NoError(t, repo.Save(ctx, inactive))
	require.NoError(t, repo.PutDocument(ctx, "creator-0", "legacy", map[string]any{
		"name":  "Legacy",
		"nodes": []any{map[string]any{"id": "start", "type": "start"}},
	}))

	creators, err = repo.ListCreators(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"creator-0", "creator-1"}, creators)

	creators, err = repo.ListCreators(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"creator-0"}, creators)

	docs, err := repo.ListDocuments(ctx, "creator-1", persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
	assert.Equal(t, float64(models.CurrentSchemaVersion), docs[0].Data["schemaVersion"])

	docs, err = repo.ListDocuments(ctx, "creator-1", persistence.ListOptions{OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)

	legacy, err := repo.ListDocuments(ctx, "creator-0", persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	assert.IsType(t, []any{}, legacy[0].Data["nodes"])

	workflows, err := repo.ListByCreator(ctx, "creator-0")
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestWorkflowRepository_DeleteAndBatch(t *testing.T) {
	ctx := t.Context()
	repo := NewWorkflowRepository(t.TempDir())

	batch := repo.NewBatch()
	batch.Put(testWorkflow("creator-1", "a"))
	batch.Put(testWorkflow("creator-1", "b"))
	require.Equal(t, 2, batch.Len())
	require.NoError(t, batch.Commit(ctx))
	assert.Zero(t, batch.Len())

	workflows, err := repo.ListByCreator(ctx, "creator-1")
	require.NoError(t, err)
	assert.Len(t, workflows, 2)

	require.NoError(t, repo.Delete(ctx, "creator-1", "a"))
	assert.True(t, persistence.IsWorkflowNotFound(repo.Delete(ctx, "creator-1", "a")))
}

func TestExecutionStateRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).ExecutionStateRepository()

	_, err := repo.Get(ctx, "conv-1")
	assert.True(t, persistence.IsExecutionStateNotFound(err))

	state := &models.ExecutionState{
		WorkflowID:    "wf-1",
		CurrentNodeID: "ask",
		Status:        models.ExecutionWaiting,
		Variables:     map[string]any{"email": "a@b.co"},
	}
	require.NoError(t, repo.Save(ctx, "conv-1", state))

	got, err := repo.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "ask", got.CurrentNodeID)
	assert.Equal(t, models.ExecutionWaiting, got.Status)
	assert.Equal(t, "a@b.co", got.Variables["email"])

	require.NoError(t, repo.Delete(ctx, "conv-1"))
	require.NoError(t, repo.Delete(ctx, "conv-1"))

	_, err = repo.Get(ctx, "conv-1")
	assert.True(t, persistence.IsExecutionStateNotFound(err))
}

func TestWorkflowRepository_ListDocumentsReportsUnreadableFile(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	repo := NewWorkflowRepository(dir)

	require.NoError(t, repo.PutDocument(ctx, "creator-1", "a_legacy", map[string]any{"name": "Legacy"}))
	require.NoError(t, repo.Save(ctx, testWorkflow("creator-1", "m_current")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "creators", "creator-1", "workflows", "z_broken.json"), []byte(`{"name":`), 0o600))

	docs, err := repo.ListDocuments(ctx, "creator-1", persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "Legacy", docs[0].Data["name"])
	assert.NoError(t, docs[0].Err)
	assert.NoError(t, docs[1].Err)

	assert.Equal(t, "z_broken", docs[2].ID)
	assert.Nil(t, docs[2].Data)
	assert.True(t, persistence.IsInvalidDocument(docs[2].Err))

	docs, err = repo.ListDocuments(ctx, "creator-1", persistence.ListOptions{OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "m_current", docs[0].ID)
	assert.Equal(t, "z_broken", docs[1].ID)

	workflows, err := repo.ListByCreator(ctx, "creator-1")
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "m_current", workflows[0].ID)
}
