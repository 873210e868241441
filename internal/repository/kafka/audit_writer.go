package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xela07ax/honeyagent/internal/audit"
)

// messageWriter часть kafka.Writer, которая нужна репозиторию.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditWriter публикует события аудита в топик. Ключ — trace_id,
// поэтому события одного запроса попадают в одну партицию и сохраняют порядок.
type AuditWriter struct {
	w messageWriter
}

func NewAuditWriter(brokers []string, topic string) *AuditWriter {
	return &AuditWriter{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (a *AuditWriter) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := toMessages(events)
	if err != nil {
		return err
	}
	if err := a.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: write audit batch: %w", err)
	}
	return nil
}

func (a *AuditWriter) Close() error {
	return a.w.Close()
}

func toMessages(events []audit.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("kafka: encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.TraceID),
			Value: value,
			Time:  e.Timestamp,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Kind)},
			},
		})
	}
	return msgs, nil
}
