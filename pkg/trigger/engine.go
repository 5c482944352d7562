// Package trigger evaluates reactive rules against the event stream and
// cron schedules against wall-clock minutes, dispatching rule actions when
// they fire.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stagehq/stagehand/pkg/eventbus"
	"github.com/stagehq/stagehand/pkg/events"
	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/rules"
)

var (
	ErrRuleNotFound = errors.New("trigger rule not found")
	ErrRuleExists   = errors.New("trigger rule already registered")
)

// activeRule is a registered rule with its body parsed once. Registration
// rejects malformed bodies, so evaluation never parses.
type activeRule struct {
	rule      models.TriggerRule
	condition rules.Expr
	schedules []*rules.Schedule

	// disabled is set when condition evaluation errors at runtime; the
	// rule stops firing until re-registered.
	disabled bool
}

type Engine struct {
	logger     *slog.Logger
	bus        eventbus.EventBus
	dispatcher *Dispatcher
	opts       rules.EvalOptions
	clock      func() time.Time

	mu    sync.RWMutex
	rules map[string]*activeRule
}

func NewEngine(logger *slog.Logger, bus eventbus.EventBus, dispatcher *Dispatcher, opts rules.EvalOptions) *Engine {
	return &Engine{
		logger:     logger.With("module", "trigger"),
		bus:        bus,
		dispatcher: dispatcher,
		opts:       opts,
		clock:      time.Now,
		rules:      make(map[string]*activeRule),
	}
}

// compileRule validates the rule and parses its body. Condition bodies and
// cron expressions are parsed here; a rule that cannot be parsed never
// becomes active.
func compileRule(rule models.TriggerRule) (*activeRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	active := &activeRule{rule: rule}

	switch rule.Type {
	case models.TriggerRuleCondition:
		condition, err := rules.ParseCondition(rule.Rule)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}

		active.condition = condition

	case models.TriggerRuleSchedule:
		schedules, err := rules.ParseSchedules(rule.Schedules)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}

		active.schedules = schedules
	}

	return active, nil
}

// Register validates and activates a rule.
func (e *Engine) Register(rule models.TriggerRule) error {
	active, err := compileRule(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.Name]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.Name)
	}

	e.rules[rule.Name] = active
	e.logger.Info("Registered trigger rule",
		"rule", rule.Name, "type", string(rule.Type), "action", rule.Action.Target)

	return nil
}

// Replace updates an existing rule in place, re-parsing its body. The new
// body is parsed before the old rule is touched: a replacement that fails
// validation leaves the previous rule active.
func (e *Engine) Replace(rule models.TriggerRule) error {
	active, err := compileRule(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.Name]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.Name)
	}

	e.rules[rule.Name] = active
	e.logger.Info("Replaced trigger rule",
		"rule", rule.Name, "type", string(rule.Type), "action", rule.Action.Target)

	return nil
}

// Unregister removes a rule. It stops firing immediately.
func (e *Engine) Unregister(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[name]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}

	delete(e.rules, name)
	e.logger.Info("Unregistered trigger rule", "rule", name)

	return nil
}

// Rules lists the registered rules.
func (e *Engine) Rules() []models.TriggerRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	list := make([]models.TriggerRule, 0, len(e.rules))
	for _, active := range e.rules {
		list = append(list, active.rule)
	}

	return list
}

// RegisterEventHandlers subscribes the engine to the whole event stream;
// every published event is evaluated against every condition rule.
func (e *Engine) RegisterEventHandlers(subscriber eventbus.EventSubscriber) {
	subscriber.HandleAll(e.handleEvent)
}

func (e *Engine) handleEvent(ctx context.Context, event events.Event) error {
	// Events produced by trigger actions are still evaluated, which is
	// what allows rule chains. Cycle prevention is left to rule authors.
	doc := event.AsMap()

	for _, active := range e.conditionRules() {
		matched, err := rules.Evaluate(active.condition, doc, e.opts)
		if err != nil {
			e.disableRule(active.rule.Name, err)

			continue
		}

		if !matched {
			continue
		}

		e.fire(ctx, active.rule, event.CorrelationID)
	}

	return nil
}

// Run drives schedule rules. It wakes once per minute, aligned to the
// minute boundary, and fires every schedule matching the current tick.
// Ticks that pass while the engine is down are not backfilled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Trigger schedule loop started")

	for {
		now := e.clock()
		next := now.Truncate(time.Minute).Add(time.Minute)

		select {
		case <-ctx.Done():
			e.logger.Info("Trigger schedule loop stopped")

			return ctx.Err()
		case <-time.After(next.Sub(now)):
		}

		e.evaluateTick(ctx, e.clock())
	}
}

// evaluateTick fires every schedule rule matching the minute containing t.
func (e *Engine) evaluateTick(ctx context.Context, t time.Time) {
	for _, active := range e.scheduleRules() {
		for _, schedule := range active.schedules {
			if !schedule.Matches(t) {
				continue
			}

			e.fire(ctx, active.rule, "")

			// One firing per rule per tick, even when several of its
			// expressions match.
			break
		}
	}
}

func (e *Engine) fire(ctx context.Context, rule models.TriggerRule, correlationID string) {
	if correlationID == "" {
		correlationID = e.bus.GenerateID()
	}

	e.logger.Info("Trigger rule fired",
		"rule", rule.Name, "action", rule.Action.Target, "correlation_id", correlationID)

	if err := e.bus.Publish(ctx, events.NewTriggerFired(rule.Name, correlationID)); err != nil {
		e.logger.Warn("Failed to publish trigger_fired", "rule", rule.Name, "error", err)
	}

	firing := Firing{CorrelationID: correlationID, Source: models.RunSourceTrigger}
	if rule.Type == models.TriggerRuleSchedule {
		firing.Source = models.RunSourceSchedule
	}

	// Dispatch never blocks rule evaluation: a slow or failing action
	// must not delay the event stream or the minute tick.
	go func() {
		if err := e.dispatcher.Dispatch(context.WithoutCancel(ctx), rule.Action, firing); err != nil {
			e.logger.Error("Trigger action failed",
				"rule", rule.Name, "action", rule.Action.Target, "error", err)
		}
	}()
}

func (e *Engine) conditionRules() []*activeRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	list := make([]*activeRule, 0, len(e.rules))

	for _, active := range e.rules {
		if active.rule.Type == models.TriggerRuleCondition && !active.disabled {
			list = append(list, active)
		}
	}

	return list
}

func (e *Engine) scheduleRules() []*activeRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	list := make([]*activeRule, 0, len(e.rules))

	for _, active := range e.rules {
		if active.rule.Type == models.TriggerRuleSchedule && !active.disabled {
			list = append(list, active)
		}
	}

	return list
}

// disableRule takes a rule out of evaluation after a runtime error, e.g. a
// strict var lookup failing or comparing incompatible types. The rule
// stays registered so the operator can inspect it.
func (e *Engine) disableRule(name string, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, ok := e.rules[name]
	if !ok || active.disabled {
		return
	}

	active.disabled = true
	e.logger.Error("Disabled trigger rule after evaluation error",
		"rule", name, "error", cause)
}
