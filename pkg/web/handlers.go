// Package web provides the REST API for workflows, runs, trigger rules and
// the object store.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/stagehq/stagehand/pkg/dag"
	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/persistence"
	"github.com/stagehq/stagehand/pkg/store"
	"github.com/stagehq/stagehand/pkg/trigger"
	"github.com/stagehq/stagehand/pkg/workflow"
)

type APIHandlers struct {
	persistence persistence.Persistence
	coordinator *workflow.Coordinator
	triggers    *trigger.Engine
	objects     *store.ObjectStore
	validator   *validator.Validate
	checkers    map[string]HealthChecker
}

func NewAPIHandlers(
	p persistence.Persistence,
	coordinator *workflow.Coordinator,
	triggers *trigger.Engine,
	objects *store.ObjectStore,
	validate *validator.Validate,
	checkers map[string]HealthChecker,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		coordinator: coordinator,
		triggers:    triggers,
		objects:     objects,
		validator:   validate,
		checkers:    checkers,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	details := fiber.Map{}

	for name, check := range h.checkers {
		detail, ok := check()
		details[name] = detail

		if !ok {
			status = "unhealthy"
			httpStatus = http.StatusInternalServerError
		}
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"checkers":  details,
		"timestamp": time.Now().UTC(),
	})
}

// Workflows

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.Workflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	name := c.Params("name")

	definition, err := h.persistence.WorkflowByName(c.Context(), name)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(definition)
}

// ApplyWorkflow upserts a workflow definition. The body is checked against
// the document schema, then decoded and compiled; a definition whose graph
// does not compile is never stored.
func (h *APIHandlers) ApplyWorkflow(c fiber.Ctx) error {
	body := c.Body()

	if err := validateWorkflowDocument(body); err != nil {
		return badRequest(c, err.Error())
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal(body, &definition); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := definition.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := dag.Compile(&definition); err != nil {
		return handleSubmitError(c, err)
	}

	if err := h.persistence.SaveWorkflow(c.Context(), &definition); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.persistence.DeleteWorkflow(c.Context(), c.Params("name")); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Runs

func (h *APIHandlers) SubmitRun(c fiber.Ctx) error {
	name := c.Params("name")

	var req SubmitRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	handle, err := h.coordinator.SubmitByName(c.Context(), name, workflow.SubmitOptions{
		Namespace: req.Namespace,
		Input:     req.Input,
		Source:    models.RunSourceAPI,
	})
	if err != nil {
		return handleSubmitError(c, err)
	}

	if req.Wait {
		run, err := handle.Await(c.Context())
		if err != nil {
			return internalError(c, err)
		}

		return c.JSON(run)
	}

	return c.Status(fiber.StatusAccepted).JSON(handle.Snapshot())
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"runs": h.coordinator.Runs()})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	uid := c.Params("uid")

	run, err := h.coordinator.GetRun(uid)
	if err == nil {
		return c.JSON(run)
	}

	// Runs from earlier service lifetimes live in persistence only.
	stored, perr := h.persistence.RunByUID(c.Context(), uid)
	if perr != nil {
		return handleRunError(c, err)
	}

	return c.JSON(stored)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	if err := h.coordinator.Cancel(c.Params("uid")); err != nil {
		return handleRunError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// Trigger rules

func (h *APIHandlers) GetTriggers(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"triggers": h.triggers.Rules()})
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var rule models.TriggerRule
	if err := c.Bind().JSON(&rule); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	// Registration parses the rule body; a malformed rule never reaches
	// storage.
	if err := h.triggers.Register(rule); err != nil {
		return handleTriggerError(c, err)
	}

	if err := h.persistence.SaveTrigger(c.Context(), &rule); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	rule, err := h.persistence.TriggerByName(c.Context(), c.Params("name"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Trigger rule not found")
		}

		return internalError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	name := c.Params("name")

	if err := h.triggers.Unregister(name); err != nil {
		return handleTriggerError(c, err)
	}

	if err := h.persistence.DeleteTrigger(c.Context(), name); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Object store

func (h *APIHandlers) PutObject(c fiber.Ctx) error {
	var req PutObjectRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.objects.Put(c.Context(), c.Params("namespace"), c.Params("key"),
		req.Value, store.Strategy(req.Strategy))
	if err != nil {
		return handleObjectError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetObject(c fiber.Ctx) error {
	value, err := h.objects.Get(c.Context(), c.Params("namespace"), c.Params("key"),
		store.Strategy(c.Query("strategy")))
	if err != nil {
		return handleObjectError(c, err)
	}

	return c.JSON(fiber.Map{"value": value})
}

func (h *APIHandlers) DeleteObject(c fiber.Ctx) error {
	err := h.objects.Delete(c.Context(), c.Params("namespace"), c.Params("key"),
		store.Strategy(c.Query("strategy")))
	if err != nil {
		return handleObjectError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListObjects(c fiber.Ctx) error {
	keys, err := h.objects.List(c.Context(), c.Params("namespace"),
		store.Strategy(c.Query("strategy")))
	if err != nil {
		return handleObjectError(c, err)
	}

	return c.JSON(fiber.Map{"keys": keys})
}

func (h *APIHandlers) ClearNamespace(c fiber.Ctx) error {
	err := h.objects.Clear(c.Context(), c.Params("namespace"),
		store.Strategy(c.Query("strategy")))
	if err != nil {
		return handleObjectError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
