// Package events publishes activity change events to Kafka for downstream
// consumers. Publishing is fire-and-forget from the caller's point of
// view: a broker outage never blocks a record-keeping operation.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/youthcenter/internal/domain"
)

// Publisher lazily manages one Kafka writer per topic. With no brokers
// configured it is a no-op.
type Publisher struct {
	brokers []string
	topic   string
	logger  *slog.Logger

	mu      stdsync.Mutex
	writers map[string]*kafka.Writer
}

// NewPublisher creates a Publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		brokers: brokers,
		topic:   topic,
		logger:  logger.With(slog.String("component", "events")),
		writers: make(map[string]*kafka.Writer),
	}
}

// Enabled reports whether any brokers are configured.
func (p *Publisher) Enabled() bool { return len(p.brokers) > 0 }

type envelope struct {
	EventType  string           `json:"eventType"`
	OccurredAt time.Time        `json:"occurredAt"`
	Activity   *domain.Activity `json:"activity,omitempty"`
}

// Publish sends one activity event. Failures are logged, not returned.
func (p *Publisher) Publish(ctx context.Context, eventType string, activity *domain.Activity) {
	if !p.Enabled() {
		return
	}

	payload, err := json.Marshal(envelope{
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Activity:   activity,
	})
	if err != nil {
		p.logger.Warn("event encode failed", slog.String("error", err.Error()))
		return
	}

	msg := kafka.Message{Value: payload}
	if activity != nil {
		msg.Key = []byte(activity.ID)
	}
	if err := p.writerForTopic(p.topic).WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("event publish failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

func (p *Publisher) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
