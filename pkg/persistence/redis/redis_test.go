package redis_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/redis"
)

func setupStore(t *testing.T) (*redis.Store, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := redis.NewStore(ctx, logger, fmt.Sprintf("redis://%s:%s/0", host, port.Port()), redis.WithStateTTL(time.Hour))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, ctx
}

func TestStore_ExecutionState(t *testing.T) {
	store, ctx := setupStore(t)

	_, err := store.Get(ctx, "conv-1")
	assert.True(t, persistence.IsExecutionStateNotFound(err))

	state := &models.ExecutionState{
		WorkflowID:    "wf-1",
		CurrentNodeID: "wait",
		Status:        models.ExecutionWaiting,
		Variables:     map[string]any{"age": 30.0},
	}
	require.NoError(t, store.Save(ctx, "conv-1", state))

	got, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "wait", got.CurrentNodeID)
	assert.InDelta(t, 30.0, got.Variables["age"], 0)

	require.NoError(t, store.Delete(ctx, "conv-1"))

	_, err = store.Get(ctx, "conv-1")
	assert.True(t, persistence.IsExecutionStateNotFound(err))
}

func TestStore_Lock(t *testing.T) {
	store, ctx := setupStore(t)

	unlock, err := store.Lock(ctx, "conv-1", time.Minute)
	require.NoError(t, err)

	_, err = store.Lock(ctx, "conv-1", time.Minute)
	assert.True(t, persistence.IsConversationLocked(err))

	other, err := store.Lock(ctx, "conv-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))

	again, err := store.Lock(ctx, "conv-1", time.Minute)
	require.NoError(t, err)

	// a released token must not free the new holder's lease
	require.NoError(t, unlock(ctx))

	_, err = store.Lock(ctx, "conv-1", time.Minute)
	assert.True(t, persistence.IsConversationLocked(err))

	require.NoError(t, again(ctx))
}

func TestStore_LockExpires(t *testing.T) {
	store, ctx := setupStore(t)

	_, err := store.Lock(ctx, "conv-1", 100*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		unlock, err := store.Lock(ctx, "conv-1", time.Minute)
		if err != nil {
			return false
		}

		return unlock(ctx) == nil
	}, 5*time.Second, 50*time.Millisecond)
}
