package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/honeyagent/internal/audit"
)

const (
	defaultFetchLimit = 100
	maxFetchLimit     = 1000
)

// Fetch последние события журнала, новые первыми.
func (r *AuditRepo) Fetch(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	var (
		where []string
		args  []any
	)
	eq := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	eq("kind", string(f.Kind))
	eq("agent_id", f.AgentID)
	eq("trace_id", f.TraceID)

	limit := f.Limit
	if limit <= 0 || limit > maxFetchLimit {
		limit = defaultFetchLimit
	}
	args = append(args, limit)

	query := "SELECT id, trace_id, kind, agent_id, subject_id, label, payload, timestamp FROM audit_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &kind, &e.AgentID, &e.SubjectID, &e.Label, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}
		e.Kind = audit.Kind(kind)
		if len(payload) > 0 {
			// Битый payload не должен прятать само событие
			_ = json.Unmarshal(payload, &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
