package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/stagehq/stagehand/pkg/persistence"
	"github.com/stagehq/stagehand/pkg/store"
	"github.com/stagehq/stagehand/pkg/trigger"
	"github.com/stagehq/stagehand/pkg/web"
	"github.com/stagehq/stagehand/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	coordinator *workflow.Coordinator
	triggers    *trigger.Engine
	objects     *store.ObjectStore
	checkers    map[string]web.HealthChecker
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	coordinator *workflow.Coordinator,
	triggers *trigger.Engine,
	objects *store.ObjectStore,
	checkers map[string]web.HealthChecker,
) *API {
	return &API{
		logger:      logger,
		persistence: p,
		coordinator: coordinator,
		triggers:    triggers,
		objects:     objects,
		checkers:    checkers,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.persistence, a.coordinator, a.triggers, a.objects, a.validate, a.checkers)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stagehand API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.ApplyWorkflow)
	w.Get("/:name", handlers.GetWorkflow)
	w.Delete("/:name", handlers.DeleteWorkflow)
	w.Post("/:name/runs", handlers.SubmitRun)

	r := app.Group("/runs")
	r.Get("/", handlers.GetRuns)
	r.Get("/:uid", handlers.GetRun)
	r.Post("/:uid/cancel", handlers.CancelRun)

	t := app.Group("/triggers")
	t.Get("/", handlers.GetTriggers)
	t.Post("/", handlers.CreateTrigger)
	t.Get("/:name", handlers.GetTrigger)
	t.Delete("/:name", handlers.DeleteTrigger)

	o := app.Group("/namespaces/:namespace/objects")
	o.Get("/", handlers.ListObjects)
	o.Delete("/", handlers.ClearNamespace)
	o.Put("/:key", handlers.PutObject)
	o.Get("/:key", handlers.GetObject)
	o.Delete("/:key", handlers.DeleteObject)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down API", "error", err)
		}
	}()

	a.logger.Info("Starting API server", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
