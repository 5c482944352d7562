package web

import "github.com/stagehq/stagehand/pkg/models"

// SubmitRunRequest starts a run of a stored workflow.
type SubmitRunRequest struct {
	Namespace string         `json:"namespace,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	// Wait makes the request block until the run is terminal instead of
	// returning 202 with the running snapshot.
	Wait bool `json:"wait,omitempty"`
}

// PutObjectRequest stores one value in the object store.
type PutObjectRequest struct {
	Value    any    `json:"value"`
	Strategy string `json:"strategy,omitempty" validate:"omitempty,oneof=cluster_memory artifact fallback"`
}

// RunResponse is the API view of a run.
type RunResponse struct {
	models.WorkflowRun
}

// HealthChecker reports one subsystem's availability.
type HealthChecker func() (string, bool)
