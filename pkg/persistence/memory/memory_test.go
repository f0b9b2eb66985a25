package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

func workflow(creatorID, id string, active bool) *models.Workflow {
	return &models.Workflow{
		ID:            id,
		CreatorID:     creatorID,
		Name:          id,
		IsActive:      active,
		StartNodeID:   "start",
		Nodes:         map[string]*models.Node{"start": {ID: "start", Type: models.NodeTypeStart, Data: models.StartData{}}},
		Triggers:      []models.Trigger{{Type: models.TriggerAlways}},
		SchemaVersion: models.CurrentSchemaVersion,
		Revision:      1,
	}
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	ctx := t.Context()
	repo := NewWorkflowRepository()

	require.NoError(t, repo.Save(ctx, workflow("c1", "w1", true)))

	got, err := repo.GetByID(ctx, "c1", "w1")
	require.NoError(t, err)
	assert.Equal(t, "w1", got.ID)
	assert.Equal(t, models.NodeTypeStart, got.Node("start").Type)

	_, err = repo.GetByID(ctx, "c2", "w1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_ListCreatorsAndDocuments(t *testing.T) {
	ctx := t.Context()
	repo := NewWorkflowRepository()

	require.NoError(t, repo.Save(ctx, workflow("c2", "b", true)))
	require.NoError(t, repo.Save(ctx, workflow("c2", "a", false)))
	require.NoError(t, repo.Save(ctx, workflow("c1", "x", true)))
	require.NoError(t, repo.PutDocument(ctx, "c3", "legacy", map[string]any{"nodes": []any{}, "isActive": true}))

	creators, err := repo.ListCreators(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, creators)

	creators, err = repo.ListCreators(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, creators)

	docs, err := repo.ListDocuments(ctx, "c2", persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)

	docs, err = repo.ListDocuments(ctx, "c2", persistence.ListOptions{OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID)

	docs, err = repo.ListDocuments(ctx, "c2", persistence.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestWorkflowRepository_ListByCreatorSkipsUndecodable(t *testing.T) {
	ctx := t.Context()
	repo := NewWorkflowRepository()

	require.NoError(t, repo.Save(ctx, workflow("c1", "ok", true)))
	require.NoError(t, repo.PutDocument(ctx, "c1", "broken", map[string]any{"nodes": []any{"not-a-node"}}))

	workflows, err := repo.ListByCreator(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "ok", workflows[0].ID)
}

func TestWorkflowRepository_Delete(t *testing.T) {
	ctx := t.Context()
	repo := NewWorkflowRepository()

	require.NoError(t, repo.Save(ctx, workflow("c1", "w1", true)))
	require.NoError(t, repo.Delete(ctx, "c1", "w1"))

	err := repo.Delete(ctx, "c1", "w1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_Batch(t *testing.T) {
	ctx := t.Context()
	repo := NewWorkflowRepository()

	batch := repo.NewBatch()
	batch.Put(workflow("c1", "w1", true))
	batch.Put(workflow("c1", "w2", true))
	assert.Equal(t, 2, batch.Len())

	docs, err := repo.ListDocuments(ctx, "c1", persistence.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.NoError(t, batch.Commit(ctx))
	assert.Zero(t, batch.Len())

	docs, err = repo.ListDocuments(ctx, "c1", persistence.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestExecutionStateRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewExecutionStateRepository()

	_, err := repo.Get(ctx, "conv")
	assert.True(t, persistence.IsExecutionStateNotFound(err))

	state := &models.ExecutionState{WorkflowID: "w1", CurrentNodeID: "ask", Status: models.ExecutionWaiting, Variables: map[string]any{"name": "Ana"}}
	require.NoError(t, repo.Save(ctx, "conv", state))

	got, err := repo.Get(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, "ask", got.CurrentNodeID)
	assert.Equal(t, "Ana", got.Variables["name"])

	require.NoError(t, repo.Delete(ctx, "conv"))

	_, err = repo.Get(ctx, "conv")
	assert.True(t, persistence.IsExecutionStateNotFound(err))
}

func TestLocker(t *testing.T) {
	ctx := t.Context()
	locker := NewLocker()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	unlock, err := locker.Lock(ctx, "conv", time.Minute)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "conv", time.Minute)
	assert.True(t, persistence.IsConversationLocked(err))

	require.NoError(t, unlock(ctx))

	unlock, err = locker.Lock(ctx, "conv", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, err = locker.Lock(ctx, "conv", time.Minute)
	require.NoError(t, err)

	// stale unlock must not release the newer lease
	require.NoError(t, unlock(ctx))

	_, err = locker.Lock(ctx, "conv", time.Minute)
	assert.True(t, persistence.IsConversationLocked(err))
}
