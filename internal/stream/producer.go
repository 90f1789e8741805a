// Package stream exports lifecycle events to Kafka on a best-effort basis.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/events"
)

// MessageWriter is the subset of kafka.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is the exported event shape.
type Record struct {
	EventID         string    `json:"event_id"`
	Type            string    `json:"type"`
	TicketID        string    `json:"ticket_id"`
	TicketNumber    string    `json:"ticket_number"`
	ActorID         string    `json:"actor_id"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	Status          string    `json:"status"`
	Priority        string    `json:"priority,omitempty"`
	AssignedAgentID *string   `json:"assigned_agent_id,omitempty"`
	PreviousAgentID *string   `json:"previous_agent_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Producer writes lifecycle events to a topic. Without brokers it is a no-op.
type Producer struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewProducer builds a producer. Empty brokers or topic disable it.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{logger: logger}
	}
	return &Producer{
		logger: logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// NewProducerWithWriter is used by tests to inject a writer.
func NewProducerWithWriter(w MessageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, logger: logger}
}

// Enabled reports whether events are exported.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// RegisterHandlers subscribes the exporter to every lifecycle event.
func (p *Producer) RegisterHandlers(d events.Dispatcher) {
	if !p.Enabled() {
		return
	}
	d.SubscribeAll(p.Handle)
}

// Handle writes one event keyed by ticket so per-ticket order is kept within a partition.
// Write failures are logged and swallowed.
func (p *Producer) Handle(ctx context.Context, e events.Event) error {
	if p.writer == nil {
		return nil
	}
	body, err := json.Marshal(toRecord(e))
	if err != nil {
		p.logger.Warn("kafka: marshal lifecycle event", zap.String("event_id", e.ID), zap.Error(err))
		return nil
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.TicketID), Value: body}); err != nil {
		p.logger.Warn("kafka: write lifecycle event",
			zap.String("event_id", e.ID),
			zap.String("ticket_id", e.TicketID),
			zap.Error(err))
	}
	return nil
}

func toRecord(e events.Event) Record {
	r := Record{
		EventID:         e.ID,
		Type:            string(e.Type),
		TicketID:        e.TicketID,
		TicketNumber:    e.TicketNumber,
		ActorID:         e.Actor.ID,
		PreviousStatus:  string(e.PreviousStatus),
		Status:          string(e.Status),
		PreviousAgentID: e.PreviousAgentID,
		Timestamp:       e.Timestamp,
	}
	if e.Ticket != nil {
		r.Priority = string(e.Ticket.Priority)
		r.AssignedAgentID = e.Ticket.AssignedAgentID
	}
	return r
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
