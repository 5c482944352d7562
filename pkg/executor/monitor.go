package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Health is the monitor's view of the executor connection.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	// HealthUnhealthy means the retry budget was exhausted without a
	// successful probe. The process stays up; runs submitted against an
	// unhealthy executor fail fast.
	HealthUnhealthy Health = "unhealthy"
)

// Monitor probes the executor connection and tolerates transient loss by
// retrying with bounded exponential backoff instead of crashing. A probe
// failure degrades the state; exhausting the budget marks it unhealthy.
type Monitor struct {
	executor Executor
	interval time.Duration
	budget   time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	health Health
}

func NewMonitor(exec Executor, interval, retryBudget time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		executor: exec,
		interval: interval,
		budget:   retryBudget,
		logger:   logger.With("module", "executor_monitor", "executor", exec.Kind()),
		health:   HealthHealthy,
	}
}

func (m *Monitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.health
}

func (m *Monitor) setHealth(health Health) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.health != health {
		m.logger.Info("Executor health changed", "from", string(m.health), "to", string(health))
	}

	m.health = health
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	if err := m.executor.HealthCheck(ctx); err == nil {
		m.setHealth(HealthHealthy)

		return
	}

	m.setHealth(HealthDegraded)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = m.budget

	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		return m.executor.HealthCheck(ctx)
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		m.logger.Error("Executor health retry budget exhausted", "error", err)
		m.setHealth(HealthUnhealthy)

		return
	}

	m.setHealth(HealthHealthy)
}
