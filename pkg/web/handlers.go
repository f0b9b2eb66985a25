// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/convoflow/pkg/autoheal"
	"github.com/dukex/convoflow/pkg/conversation"
	"github.com/dukex/convoflow/pkg/services"
)

type APIHandlers struct {
	workflowService *services.Workflow
	healer          *autoheal.Healer
	runner          *conversation.Runner
	validator       *validator.Validate
}

// NewAPIHandlers creates the handlers. healer and runner are optional; their
// routes are only registered when set.
func NewAPIHandlers(
	workflowService *services.Workflow,
	healer *autoheal.Healer,
	runner *conversation.Runner,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		healer:          healer,
		runner:          runner,
		validator:       validator,
	}
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/presets", h.GetPresets)
	router.Post("/compile", h.CompileWorkflow)

	w := router.Group("/creators/:creatorId/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/from-preset/:presetId", h.CreateWorkflowFromPreset)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)

	if h.runner != nil {
		router.Post("/creators/:creatorId/conversations/:conversationId/messages", h.HandleMessage)
	}

	if h.healer != nil {
		router.Post("/admin/autoheal", h.RunAutoheal)
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Convoflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Convoflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetPresets(c fiber.Ctx) error {
	return c.JSON(h.workflowService.Presets())
}

func (h *APIHandlers) CompileWorkflow(c fiber.Ctx) error {
	var req CompileRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Compile(c.Context(), req.CreatorID, req.Workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.ListByCreator(c.Context(), c.Params("creatorId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("creatorId"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	raw, err := decodeDocument(c.Body())
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.workflowService.Create(c.Context(), c.Params("creatorId"), raw)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(WorkflowResponse{Workflow: result.Workflow, Warnings: warnings(result.Warnings)})
}

func (h *APIHandlers) CreateWorkflowFromPreset(c fiber.Ctx) error {
	var req CreateFromPresetRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.CreateFromPreset(c.Context(), c.Params("creatorId"), c.Params("presetId"), req.Overrides())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(WorkflowResponse{Workflow: result.Workflow, Warnings: warnings(result.Warnings)})
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	raw, err := decodeDocument(c.Body())
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.workflowService.Update(c.Context(), c.Params("creatorId"), c.Params("id"), raw)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WorkflowResponse{Workflow: result.Workflow, Warnings: warnings(result.Warnings)})
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Activate(c.Context(), c.Params("creatorId"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), c.Params("creatorId"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HandleMessage(c fiber.Ctx) error {
	var req MessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.runner.Handle(c.Context(), conversation.Inbound{
		ConversationID: c.Params("conversationId"),
		CreatorID:      c.Params("creatorId"),
		Text:           req.Text,
		ProductIDs:     req.ProductIDs,
		Kind:           req.Kind,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(outcome)
}

func (h *APIHandlers) RunAutoheal(c fiber.Ctx) error {
	var req AutohealRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	summary, err := h.healer.Run(c.Context(), req.Options())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(summary)
}

// decodeDocument reads a raw workflow document. Documents are free-form
// maps, so they bypass the struct binder.
func decodeDocument(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}

func warnings(list []string) []string {
	if list == nil {
		return []string{}
	}

	return list
}
