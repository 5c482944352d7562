package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/stagehq/stagehand/pkg/dag"
	"github.com/stagehq/stagehand/pkg/persistence"
	"github.com/stagehq/stagehand/pkg/registry"
	"github.com/stagehq/stagehand/pkg/store"
	"github.com/stagehq/stagehand/pkg/trigger"
	"github.com/stagehq/stagehand/pkg/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleSubmitError maps submission failures to their status codes: graph
// and target problems are the client's fault, everything else is ours.
func handleSubmitError(c fiber.Ctx, err error) error {
	var (
		validationErr *dag.ValidationError
		resolutionErr *registry.ResolutionError
	)

	switch {
	case errors.As(err, &validationErr):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("invalid_workflow").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.As(err, &resolutionErr):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("unresolvable_target").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case persistence.IsNotFound(err):
		return notFound(c, err.Error())

	case errors.Is(err, workflow.ErrExecutorUnhealthy):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("executor_unhealthy").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		return internalError(c, err)
	}
}

func handleRunError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		return notFound(c, "run not found")
	case errors.Is(err, workflow.ErrRunFinished):
		return conflict(c, "run already finished")
	default:
		return internalError(c, err)
	}
}

// handleObjectError maps object store failures: unknown strategies and
// unserializable values are the client's fault, unreachable tiers are ours.
func handleObjectError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound(c, "Object not found")
	case errors.Is(err, store.ErrUnknownStrategy):
		return badRequest(c, err.Error())
	case store.IsSerializationError(err):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}

func handleTriggerError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, trigger.ErrRuleNotFound):
		return notFound(c, "trigger rule not found")
	case errors.Is(err, trigger.ErrRuleExists):
		return conflict(c, "trigger rule already registered")
	default:
		return badRequest(c, err.Error())
	}
}
