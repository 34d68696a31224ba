// Package events publishes school run lifecycle events over NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName = "SCHOOLRUNS"

	streamMaxAge  = 7 * 24 * time.Hour
	streamMaxMsgs = -1
)

// StreamSubjects are the subject filters captured by the stream
var StreamSubjects = []string{"run.*", "execution.*", "reminder.*"}

// Type identifies an event and doubles as its NATS subject
type Type string

const (
	TypeRunCreated         Type = "run.created"
	TypeRunCompleted       Type = "run.completed"
	TypeRunDeleted         Type = "run.deleted"
	TypeExecutionStarted   Type = "execution.started"
	TypeExecutionAdvanced  Type = "execution.advanced"
	TypeExecutionPaused    Type = "execution.paused"
	TypeExecutionResumed   Type = "execution.resumed"
	TypeExecutionCompleted Type = "execution.completed"
	TypeExecutionCancelled Type = "execution.cancelled"
	TypeReminderDue        Type = "reminder.due"
)

// Event is a lifecycle notification for the UI layer and other consumers
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	RunID      string                 `json:"run_id"`
	RunName    string                 `json:"run_name,omitempty"`
	State      string                 `json:"state,omitempty"`
	StopIndex  int                    `json:"stop_index"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// JetStreamPublisher publishes events to the SCHOOLRUNS stream
type JetStreamPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewJetStreamPublisher creates a publisher, creating the stream when it does
// not exist yet
func NewJetStreamPublisher(ctx context.Context, js nats.JetStreamContext, logger *zap.Logger) (*JetStreamPublisher, error) {
	p := &JetStreamPublisher{
		js:     js,
		logger: logger.Named("events"),
	}
	if err := p.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) setupStream(ctx context.Context) error {
	_, err := p.js.StreamInfo(StreamName, nats.Context(ctx))
	if err == nil {
		p.logger.Info("Using existing stream", zap.String("stream", StreamName))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: StreamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  streamMaxMsgs,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("Stream created successfully", zap.String("stream", StreamName))
	return nil
}

// Publish implements Publisher. Missing IDs and timestamps are filled in.
func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(string(event.Type), data, nats.Context(ctx), nats.MsgId(event.ID)); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("run_id", event.RunID))
	return nil
}

// Subscribe delivers events on subject to handler until ctx is done
func Subscribe(ctx context.Context, js nats.JetStreamContext, subject string, logger *zap.Logger, handler func(Event)) error {
	sub, err := js.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("Failed to unmarshal event", zap.Error(err))
			return
		}

		handler(event)
		msg.Ack()
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}
