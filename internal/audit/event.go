package audit

import (
	"context"
	"time"
)

// Kind тип события аудита.
type Kind string

const (
	KindRouting     Kind = "routing_decision"
	KindCanary      Kind = "canary_issued"
	KindFingerprint Kind = "fingerprint_captured"
	KindToolDenied  Kind = "capability_denied"
)

type Event struct {
	ID        string         `json:"id"`         // UUID события
	TraceID   string         `json:"trace_id"`   // Сквозной ID запроса
	Kind      Kind           `json:"kind"`       // Что произошло
	AgentID   string         `json:"agent_id"`   // Какой агент участвовал
	SubjectID string         `json:"subject_id"` // Кто пришел (пусто для невалидного токена)
	Label     string         `json:"label"`      // event_label правила, threat level и т.п.
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Filter выборка для чтения журнала. Пустые поля не фильтруют.
type Filter struct {
	Kind    Kind
	AgentID string
	TraceID string
	Limit   int
}

// Reader реализуют только sink-и с запросами (Postgres).
type Reader interface {
	Fetch(ctx context.Context, f Filter) ([]Event, error)
}
