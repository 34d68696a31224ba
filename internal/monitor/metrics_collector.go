// Package monitor publishes periodic health and activity metrics.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/events"
	"github.com/t77yq/schoolrun/internal/registry"
)

const (
	MetricsStream  = "METRICS"
	MetricsSubject = "metrics.system"
)

// CountsSource reports how many runs are stored
type CountsSource interface {
	Counts() registry.Counts
}

// ActiveExecution is the last known progress of a run that is executing
type ActiveExecution struct {
	RunID          string    `json:"run_id"`
	RunName        string    `json:"run_name"`
	State          string    `json:"state"`
	StopIndex      int       `json:"stop_index"`
	StopsCompleted int       `json:"stops_completed"`
	StopsTotal     int       `json:"stops_total"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SystemMetrics is the payload published on metrics.system
type SystemMetrics struct {
	Timestamp   time.Time          `json:"timestamp"`
	CPUUsage    float64            `json:"cpu_usage"`
	MemoryUsage float64            `json:"memory_usage"`
	Runs        registry.Counts    `json:"runs"`
	Executions  []*ActiveExecution `json:"executions"`
}

// MetricsCollector collects system and run metrics
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	source   CountsSource
	interval time.Duration
	mu       sync.RWMutex
	active   map[string]*ActiveExecution
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(js nats.JetStreamContext, source CountsSource, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		js:       js,
		source:   source,
		interval: interval,
		active:   make(map[string]*ActiveExecution),
		stop:     make(chan struct{}),
	}
}

// Start creates the metrics stream if needed, follows execution events and
// starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))

	if err := c.setupStream(); err != nil {
		return err
	}

	if err := events.Subscribe(ctx, c.js, "execution.*", c.logger, c.handleExecutionEvent); err != nil {
		return fmt.Errorf("failed to follow executions: %w", err)
	}

	go c.collectLoop(ctx)

	return nil
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping metrics collector")
		close(c.stop)
	})
}

func (c *MetricsCollector) setupStream() error {
	_, err := c.js.StreamInfo(MetricsStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     MetricsStream,
		Subjects: []string{"metrics.*"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// handleExecutionEvent tracks executions until they reach a terminal state
func (c *MetricsCollector) handleExecutionEvent(event events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case events.TypeExecutionCompleted, events.TypeExecutionCancelled:
		delete(c.active, event.RunID)
		return
	}

	startedAt := event.OccurredAt
	if prev, ok := c.active[event.RunID]; ok && event.Type != events.TypeExecutionStarted {
		startedAt = prev.StartedAt
	}

	c.active[event.RunID] = &ActiveExecution{
		RunID:          event.RunID,
		RunName:        event.RunName,
		State:          event.State,
		StopIndex:      event.StopIndex,
		StopsCompleted: intField(event.Data, "stops_completed"),
		StopsTotal:     intField(event.Data, "stops_total"),
		StartedAt:      startedAt,
		UpdatedAt:      event.OccurredAt,
	}
}

// intField reads a number from decoded JSON event data
func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// collectLoop runs the metrics collection loop
func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collectMetrics(ctx)
		}
	}
}

// collectMetrics gathers a SystemMetrics sample and publishes it
func (c *MetricsCollector) collectMetrics(ctx context.Context) {
	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	metrics := SystemMetrics{
		Timestamp:   time.Now(),
		MemoryUsage: memInfo.UsedPercent,
		Executions:  c.ActiveExecutions(),
	}
	if len(cpuPercent) > 0 {
		metrics.CPUUsage = cpuPercent[0]
	}
	if c.source != nil {
		metrics.Runs = c.source.Counts()
	}

	data, err := json.Marshal(metrics)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	if _, err := c.js.Publish(MetricsSubject, data, nats.Context(ctx)); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", metrics.CPUUsage),
		zap.Float64("memory_usage", metrics.MemoryUsage),
		zap.Int("runs_upcoming", metrics.Runs.Upcoming),
		zap.Int("active_executions", len(metrics.Executions)))
}

// ActiveExecutions returns the executions seen since the collector started
// that have not finished, ordered by run ID
func (c *MetricsCollector) ActiveExecutions() []*ActiveExecution {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*ActiveExecution, 0, len(c.active))
	for _, execution := range c.active {
		copied := *execution
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}
