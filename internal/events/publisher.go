// Package events publishes workflow events (batch jobs, deletions, action
// items) for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/config"
	"github.com/aegisshield/discovery-console/internal/metrics"
)

// EventType names a workflow event
type EventType string

const (
	EventBatchSubmitted        EventType = "batch.submitted"
	EventBatchCompleted        EventType = "batch.completed"
	EventBatchFailed           EventType = "batch.failed"
	EventAlertAnalyzed         EventType = "alert.analyzed"
	EventArtifactsAnalyzed     EventType = "artifacts.analyzed"
	EventDiscoveryDeleted      EventType = "discovery.deleted"
	EventDiscoveriesDeleted    EventType = "discoveries.bulk_deleted"
	EventAllDiscoveriesDeleted EventType = "discoveries.all_deleted"
	EventActionItemCreated     EventType = "action_item.created"
	EventActionItemUpdated     EventType = "action_item.updated"
)

// Event is one published workflow event
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps a payload with an id and time
func NewEvent(eventType EventType, payload interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "discovery-console",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Publisher delivers workflow events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// asyncTracker is implemented by publishers whose Close waits for
// publishes started by PublishAsync
type asyncTracker interface {
	track() (done func(), ok bool)
}

// KafkaPublisher writes events as JSON to a Kafka topic keyed by event type
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewKafkaPublisher creates a publisher for the workflow events topic
func NewKafkaPublisher(cfg config.KafkaConfig, collector *metrics.Collector, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.WorkflowEvents,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return newKafkaPublisher(writer, time.Duration(cfg.WriteTimeout)*time.Second, collector, logger)
}

func newKafkaPublisher(w messageWriter, timeout time.Duration, collector *metrics.Collector, logger *zap.Logger) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaPublisher{writer: w, timeout: timeout, metrics: collector, logger: logger}
}

// Publish sends one event
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Type),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "source-service", Value: []byte(event.Source)},
		},
	})
	p.metrics.EventPublished(string(event.Type), err)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Published workflow event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)))
	return nil
}

func (p *KafkaPublisher) track() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	p.pending.Add(1)
	return p.pending.Done, true
}

// Close waits for in-flight async publishes, then flushes and closes the
// writer
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.pending.Wait()
	return p.writer.Close()
}

// LogPublisher logs events instead of sending them. It is used when Kafka is
// disabled.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that only logs
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("Workflow event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Any("payload", event.Payload))
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error { return nil }

// PublishAsync publishes without blocking the caller. Failures are logged.
// Events published after the publisher is closed are dropped.
func PublishAsync(p Publisher, logger *zap.Logger, event Event) {
	if p == nil {
		return
	}
	done := func() {}
	if t, ok := p.(asyncTracker); ok {
		var open bool
		if done, open = t.track(); !open {
			logger.Warn("Dropping workflow event after publisher close", zap.String("type", string(event.Type)))
			return
		}
	}
	go func() {
		defer done()
		if err := p.Publish(context.Background(), event); err != nil {
			logger.Warn("Failed to publish workflow event",
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}()
}
