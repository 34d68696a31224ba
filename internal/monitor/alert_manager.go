package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/model"
)

const AlertStream = "ALERTS"

// ErrRuleNotFound is returned for an unknown alert rule ID
var ErrRuleNotFound = errors.New("rule not found")

// ExecutionSource lists executions that have not finished
type ExecutionSource interface {
	ActiveExecutions() []*ActiveExecution
}

// AlertManager raises alerts for executions that overrun or stall
type AlertManager struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	source   ExecutionSource
	interval time.Duration
	clock    func() time.Time

	mu    sync.RWMutex
	rules map[string]*model.AlertRule
	// fired remembers rule/execution pairs that already raised an alert
	fired map[string]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewAlertManager creates a new alert manager. clock may be nil to use
// time.Now.
func NewAlertManager(js nats.JetStreamContext, source ExecutionSource, interval time.Duration, clock func() time.Time, logger *zap.Logger) *AlertManager {
	if clock == nil {
		clock = time.Now
	}
	return &AlertManager{
		logger:   logger.Named("alert-manager"),
		js:       js,
		source:   source,
		interval: interval,
		clock:    clock,
		rules:    make(map[string]*model.AlertRule),
		fired:    make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

// Start creates the alert stream if needed and starts the evaluation loop
func (m *AlertManager) Start(ctx context.Context) error {
	_, err := m.js.StreamInfo(AlertStream)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = m.js.AddStream(&nats.StreamConfig{
			Name:     AlertStream,
			Subjects: []string{"alert.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	go m.evaluationLoop(ctx)

	m.logger.Info("Alert manager started", zap.Duration("interval", m.interval))
	return nil
}

// Stop stops the alert manager
func (m *AlertManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// GetRule returns a copy of the rule with the given ID
func (m *AlertManager) GetRule(id string) (model.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[id]
	if !ok {
		return model.AlertRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return *rule, nil
}

// AddRule adds a new alert rule, assigning an ID when it has none
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	if rule.Threshold <= 0 {
		return fmt.Errorf("rule %q: threshold must be positive", rule.Name)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = m.clock()
	rule.UpdatedAt = rule.CreatedAt

	stored := *rule
	m.mu.Lock()
	m.rules[rule.ID] = &stored
	m.mu.Unlock()
	return nil
}

// UpdateRule replaces an existing alert rule
func (m *AlertManager) UpdateRule(rule *model.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[rule.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = m.clock()
	stored := *rule
	m.rules[rule.ID] = &stored
	return nil
}

// DeleteRule deletes an alert rule
func (m *AlertManager) DeleteRule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(m.rules, id)
	return nil
}

// evaluationLoop periodically evaluates alert conditions
func (m *AlertManager) evaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.Evaluate(ctx)
		}
	}
}

// Evaluate checks every active execution against every rule and publishes
// the alerts that fire. Each rule fires at most once per execution.
func (m *AlertManager) Evaluate(ctx context.Context) []*model.Alert {
	now := m.clock()
	executions := m.source.ActiveExecutions()

	m.mu.Lock()
	var pending []*model.Alert
	live := make(map[string]struct{})
	for _, rule := range m.rules {
		if rule.Silenced {
			continue
		}
		for _, execution := range executions {
			elapsed, ok := breach(rule, execution, now)
			key := firedKey(rule.ID, execution)
			if !ok {
				if _, seen := m.fired[key]; seen {
					live[key] = struct{}{}
				}
				continue
			}
			live[key] = struct{}{}
			if _, seen := m.fired[key]; seen {
				continue
			}
			m.fired[key] = struct{}{}
			pending = append(pending, newAlert(rule, execution, elapsed, now))
		}
	}
	for key := range m.fired {
		if _, ok := live[key]; !ok {
			delete(m.fired, key)
		}
	}
	m.mu.Unlock()

	for _, alert := range pending {
		if err := m.publish(ctx, alert); err != nil {
			m.logger.Error("Failed to publish alert",
				zap.String("rule_id", alert.RuleID),
				zap.String("run_id", alert.RunID),
				zap.Error(err))
		}
	}
	return pending
}

// breach reports whether execution violates rule and for how long the
// measured condition has held
func breach(rule *model.AlertRule, execution *ActiveExecution, now time.Time) (time.Duration, bool) {
	switch rule.Type {
	case model.AlertTypeOverrun:
		elapsed := now.Sub(execution.StartedAt)
		return elapsed, elapsed > rule.Threshold
	case model.AlertTypeStalled:
		if execution.State != string(model.ExecutionPaused) {
			return 0, false
		}
		elapsed := now.Sub(execution.UpdatedAt)
		return elapsed, elapsed > rule.Threshold
	default:
		return 0, false
	}
}

func firedKey(ruleID string, execution *ActiveExecution) string {
	return fmt.Sprintf("%s/%s@%d", ruleID, execution.RunID, execution.StartedAt.Unix())
}

func newAlert(rule *model.AlertRule, execution *ActiveExecution, elapsed time.Duration, now time.Time) *model.Alert {
	return &model.Alert{
		ID:       uuid.New().String(),
		RuleID:   rule.ID,
		Type:     rule.Type,
		Severity: rule.Severity,
		RunID:    execution.RunID,
		Message:  fmt.Sprintf("%s: %s for %s", rule.Name, execution.RunName, elapsed.Round(time.Second)),
		Data: map[string]interface{}{
			"state":           execution.State,
			"stops_completed": execution.StopsCompleted,
			"stops_total":     execution.StopsTotal,
			"elapsed_seconds": int(elapsed.Seconds()),
		},
		CreatedAt: now,
	}
}

// publish sends alert on alert.<type>
func (m *AlertManager) publish(ctx context.Context, alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if _, err := m.js.Publish("alert."+string(alert.Type), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	m.logger.Info("Alert created",
		zap.String("id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("run_id", alert.RunID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)))
	return nil
}
