package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/convoflow/pkg/autoheal"
	"github.com/dukex/convoflow/pkg/conversation"
	"github.com/dukex/convoflow/pkg/interpreter"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/dukex/convoflow/pkg/presets"
	"github.com/dukex/convoflow/pkg/services"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/dukex/convoflow/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := memory.NewPersistence()

	catalog, err := presets.Default()
	require.NoError(t, err)

	workflowService := services.NewWorkflow(store, logger, services.WithCatalog(catalog))
	healer := autoheal.NewHealer(store.Workflows(), logger)
	runner := conversation.NewRunner(store.Workflows(), memory.NewExecutionStateRepository(), interpreter.New(logger, nil), logger,
		conversation.WithLocker(memory.NewLocker()),
	)

	handlers := web.NewAPIHandlers(workflowService, healer, runner, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.Register(app)

	return app, store
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(body, &out), string(body))

	return out
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	health := decode[map[string]any](t, body)
	assert.Equal(t, "healthy", health["status"])
}

func TestAPIHandlers_GetPresets(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/presets", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[[]models.Preset](t, body)
	require.Len(t, list, 3)
	assert.Equal(t, "lead_capture", list[0].ID)
}

func TestAPIHandlers_CompileWorkflow(t *testing.T) {
	app, store := setupTestApp(t)

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "valid document",
			requestBody:    web.CompileRequest{CreatorID: "creator-1", Workflow: testutil.CreateGreetingDocument(testutil.WithID("dry"))},
			expectedStatus: http.StatusOK,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				result := decode[map[string]any](t, body)
				assert.Empty(t, result["errors"])
				assert.Equal(t, "dry", result["workflow"].(map[string]any)["id"])
			},
		},
		{
			name:           "findings are returned as data",
			requestBody:    web.CompileRequest{CreatorID: "creator-1", Workflow: testutil.CreateGreetingDocument(testutil.WithoutNode("end"))},
			expectedStatus: http.StatusOK,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				result := decode[map[string]any](t, body)
				assert.NotEmpty(t, result["errors"])
			},
		},
		{
			name:           "missing creator",
			requestBody:    web.CompileRequest{Workflow: testutil.CreateGreetingDocument()},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			requestBody:    "{",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodPost, "/compile", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}

	creators, err := store.Workflows().ListCreators(t.Context(), 0)
	require.NoError(t, err)
	assert.Empty(t, creators)
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows", testutil.CreateGreetingDocument(testutil.WithID("wf")))
	require.Equal(t, http.StatusCreated, status, string(body))

	created := decode[web.WorkflowResponse](t, body)
	assert.Equal(t, "wf", created.Workflow.ID)
	assert.Equal(t, 1, created.Workflow.Revision)
	assert.NotNil(t, created.Warnings)

	status, body = doRequest(t, app, http.MethodGet, "/creators/creator-1/workflows/wf", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Greeting", decode[models.Workflow](t, body).Name)

	status, body = doRequest(t, app, http.MethodPut, "/creators/creator-1/workflows/wf", testutil.CreateGreetingDocument(testutil.WithName("Renamed")))
	require.Equal(t, http.StatusOK, status, string(body))

	updated := decode[web.WorkflowResponse](t, body)
	assert.Equal(t, "Renamed", updated.Workflow.Name)
	assert.Equal(t, 2, updated.Workflow.Revision)

	status, body = doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows/wf/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.True(t, decode[models.Workflow](t, body).IsActive)

	status, body = doRequest(t, app, http.MethodGet, "/creators/creator-1/workflows", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.Workflow](t, body), 1)

	status, _ = doRequest(t, app, http.MethodDelete, "/creators/creator-1/workflows/wf", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = doRequest(t, app, http.MethodGet, "/creators/creator-1/workflows/wf", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", decode[map[string]any](t, body)["type"])

	status, _ = doRequest(t, app, http.MethodDelete, "/creators/creator-1/workflows/wf", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_CreateWorkflowErrors(t *testing.T) {
	app, _ := setupTestApp(t)

	t.Run("invalid workflow", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows", testutil.CreateGreetingDocument(testutil.WithoutNode("end")))
		require.Equal(t, http.StatusUnprocessableEntity, status)

		problem := decode[map[string]any](t, body)
		assert.Equal(t, "invalid_workflow", problem["type"])
		assert.EqualValues(t, 422, problem["status"])
		assert.NotEmpty(t, problem["errors"])
		assert.NotNil(t, problem["warnings"])
	})

	t.Run("invalid json", func(t *testing.T) {
		status, _ := doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows", "not json")
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("empty document", func(t *testing.T) {
		status, _ := doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows", "null")
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("existing id", func(t *testing.T) {
		doc := testutil.CreateGreetingDocument(testutil.WithID("dup"))

		status, _ := doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows", doc)
		require.Equal(t, http.StatusCreated, status)

		status, body := doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows", doc)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "conflict", decode[map[string]any](t, body)["type"])
	})

	t.Run("update of missing workflow", func(t *testing.T) {
		status, _ := doRequest(t, app, http.MethodPut, "/creators/creator-1/workflows/nope", testutil.CreateGreetingDocument())
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestAPIHandlers_CreateWorkflowFromPreset(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows/from-preset/lead_capture", map[string]any{"name": "Leads", "isActive": true})
	require.Equal(t, http.StatusCreated, status, string(body))

	created := decode[web.WorkflowResponse](t, body)
	assert.Equal(t, "lead_capture", created.Workflow.PresetID)
	assert.Equal(t, "Leads", created.Workflow.Name)
	assert.True(t, created.Workflow.IsActive)

	status, _ = doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows/from-preset/support_router", nil)
	assert.Equal(t, http.StatusCreated, status)

	status, body = doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows/from-preset/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "preset_not_found", decode[map[string]any](t, body)["type"])

	status, _ = doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows/from-preset/lead_capture", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_HandleMessage(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodPost, "/creators/creator-1/workflows", testutil.CreateGreetingDocument(testutil.WithActive(true)))
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = doRequest(t, app, http.MethodPost, "/creators/creator-1/conversations/conv-1/messages", web.MessageRequest{Text: "oi"})
	require.Equal(t, http.StatusOK, status, string(body))

	outcome := decode[conversation.Outcome](t, body)
	assert.True(t, outcome.Started)
	require.NotNil(t, outcome.Result)
	assert.True(t, outcome.Result.Completed)
	require.Len(t, outcome.Result.Effects, 1)
	assert.Equal(t, "Hi", outcome.Result.Effects[0].Message)

	status, _ = doRequest(t, app, http.MethodPost, "/creators/creator-1/conversations/conv-1/messages", web.MessageRequest{Kind: "poke"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_RunAutoheal(t *testing.T) {
	app, store := setupTestApp(t)

	require.NoError(t, store.Workflows().PutDocument(t.Context(), "creator-1", "legacy", testutil.CreateLegacyDocument()))

	status, body := doRequest(t, app, http.MethodPost, "/admin/autoheal", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	dryRun := decode[autoheal.Summary](t, body)
	assert.True(t, dryRun.DryRun)
	assert.Equal(t, 1, dryRun.UpdatedWorkflows)
	assert.Zero(t, dryRun.Batches)

	status, body = doRequest(t, app, http.MethodPost, "/admin/autoheal", map[string]any{"dryRun": false})
	require.Equal(t, http.StatusOK, status, string(body))

	applied := decode[autoheal.Summary](t, body)
	assert.False(t, applied.DryRun)
	assert.Equal(t, 1, applied.Batches)

	healed, err := store.Workflows().GetByID(t.Context(), "creator-1", "legacy")
	require.NoError(t, err)
	assert.Equal(t, 1, healed.Revision)

	status, _ = doRequest(t, app, http.MethodPost, "/admin/autoheal", map[string]any{"batchSize": 900})
	assert.Equal(t, http.StatusBadRequest, status)
}
