package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/honeyagent/internal/audit"
)

func TestAuditRepo_WriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewAuditRepoFromDB(db)
	ts := time.Date(2026, 1, 16, 14, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{ID: "e1", TraceID: "t1", Kind: audit.KindRouting, AgentID: "honeypot_db_admin", Label: "invalid_credential", Payload: map[string]any{"rule": "invalid_credential"}, Timestamp: ts},
		{ID: "e2", TraceID: "t1", Kind: audit.KindFingerprint, AgentID: "honeypot_db_admin", Label: "HIGH", Timestamp: ts},
	}

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO audit_events (id, trace_id, kind, agent_id, subject_id, label, payload, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7, $8),($9, $10, $11, $12, $13, $14, $15, $16)",
	)).WithArgs(
		"e1", "t1", "routing_decision", "honeypot_db_admin", "", "invalid_credential", []byte(`{"rule":"invalid_credential"}`), ts,
		"e2", "t1", "fingerprint_captured", "honeypot_db_admin", "", "HIGH", []byte(`null`), ts,
	).WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.WriteBatch(context.Background(), events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_EmptyBatchIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewAuditRepoFromDB(db).WriteBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_ErrorWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(boom)

	err = NewAuditRepoFromDB(db).WriteBatch(context.Background(), []audit.Event{{ID: "e1", Kind: audit.KindCanary}})
	assert.ErrorIs(t, err, boom)
}

func TestAuditRepo_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(driver.ResultNoRows)
	require.NoError(t, NewAuditRepoFromDB(db).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Fetch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2026, 1, 16, 14, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "trace_id", "kind", "agent_id", "subject_id", "label", "payload", "timestamp"}).
		AddRow("e2", "t1", "canary_issued", "honeypot_db_admin", "", "postgres", []byte(`{"canary_id":"c-1"}`), ts).
		AddRow("e1", "t1", "canary_issued", "honeypot_db_admin", "", "aws", []byte(`not json`), ts)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, trace_id, kind, agent_id, subject_id, label, payload, timestamp FROM audit_events WHERE kind = $1 AND agent_id = $2 ORDER BY timestamp DESC LIMIT $3",
	)).WithArgs("canary_issued", "honeypot_db_admin", 5).WillReturnRows(rows)

	events, err := NewAuditRepoFromDB(db).Fetch(context.Background(), audit.Filter{
		Kind:    audit.KindCanary,
		AgentID: "honeypot_db_admin",
		Limit:   5,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.KindCanary, events[0].Kind)
	assert.Equal(t, "c-1", events[0].Payload["canary_id"])
	assert.Nil(t, events[1].Payload)
	assert.Equal(t, ts, events[1].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_FetchDefaultsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events ORDER BY timestamp DESC LIMIT $1")).
		WithArgs(defaultFetchLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	events, err := NewAuditRepoFromDB(db).Fetch(context.Background(), audit.Filter{Limit: 100000})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}
