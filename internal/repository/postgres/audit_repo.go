package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/honeyagent/internal/audit"
)

//go:embed migrations/001_audit_events.sql
var auditSchema string

// Количество колонок в таблице audit_events
const auditFields = 8

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// NewAuditRepoFromDB для тестов (sqlmock) и общего пула.
func NewAuditRepoFromDB(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate создает таблицу, если ее нет.
func (r *AuditRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("postgres: migrate audit_events: %w", err)
	}
	return nil
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*auditFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * auditFields
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)

		payload, err := json.Marshal(e.Payload)
		if err != nil {
			payload = []byte("{}")
		}
		vals = append(vals,
			e.ID, e.TraceID, string(e.Kind), e.AgentID,
			e.SubjectID, e.Label, payload, e.Timestamp,
		)
	}

	query := "INSERT INTO audit_events (id, trace_id, kind, agent_id, subject_id, label, payload, timestamp) VALUES " + sb.String()

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: insert audit batch: %w", err)
	}
	return nil
}
