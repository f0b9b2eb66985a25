// Package main provides the Convoflow API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/convoflow/pkg/autoheal"
	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/conversation"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/interpreter"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/presets"
	"github.com/dukex/convoflow/pkg/services"
	"github.com/dukex/convoflow/pkg/web"
)

type API struct {
	logger        *slog.Logger
	persistence   persistence.Persistence
	conversations *cmd.ConversationStore
	eventBus      eventbus.EventPublisher
	catalog       *presets.Catalog
	admin         bool
	validate      *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	conversations *cmd.ConversationStore,
	eventBus eventbus.EventPublisher,
	catalog *presets.Catalog,
	admin bool,
) *API {
	return &API{
		logger:        logger,
		persistence:   persistence,
		conversations: conversations,
		eventBus:      eventBus,
		catalog:       catalog,
		admin:         admin,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflows := a.persistence.WorkflowRepository()

	workflowService := services.NewWorkflow(a.persistence, a.logger,
		services.WithCatalog(a.catalog),
		services.WithPublisher(a.eventBus),
	)

	runner := conversation.NewRunner(workflows, a.conversations.States, interpreter.New(a.logger, nil), a.logger,
		conversation.WithLocker(a.conversations.Locker),
		conversation.WithPublisher(a.eventBus),
		conversation.WithSink(logSink),
	)

	var healer *autoheal.Healer
	if a.admin {
		healer = autoheal.NewHealer(workflows, a.logger, autoheal.WithPublisher(a.eventBus))
	}

	handlers := web.NewAPIHandlers(workflowService, healer, runner, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Convoflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}

// logSink writes outbound effects to the conversation's log. A messaging
// transport replaces it in deployments that deliver messages.
var logSink conversation.SinkFunc = func(ctx context.Context, _ string, effect interpreter.SideEffect) error {
	log.FromContext(ctx).InfoContext(ctx, "Outbound effect",
		"kind", effect.Kind,
		"node_id", effect.NodeID,
		"message", effect.Message,
	)

	return nil
}
