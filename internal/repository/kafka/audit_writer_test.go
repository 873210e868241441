package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/honeyagent/internal/audit"
)

type fakeWriter struct {
	got []kafka.Message
	err error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestAuditWriter_WriteBatch(t *testing.T) {
	fw := &fakeWriter{}
	w := &AuditWriter{w: fw}
	ts := time.Date(2026, 1, 16, 14, 0, 0, 0, time.UTC)

	err := w.WriteBatch(context.Background(), []audit.Event{
		{ID: "e1", TraceID: "trace-1", Kind: audit.KindCanary, AgentID: "honeypot_db_admin", Label: "api_key", Timestamp: ts},
	})
	require.NoError(t, err)
	require.Len(t, fw.got, 1)

	m := fw.got[0]
	assert.Equal(t, []byte("trace-1"), m.Key)
	assert.Equal(t, ts, m.Time)
	assert.Equal(t, "kind", m.Headers[0].Key)
	assert.Equal(t, []byte("canary_issued"), m.Headers[0].Value)

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(m.Value, &decoded))
	assert.Equal(t, "e1", decoded.ID)
	assert.Equal(t, audit.KindCanary, decoded.Kind)
}

func TestAuditWriter_Errors(t *testing.T) {
	boom := errors.New("broker not available")
	w := &AuditWriter{w: &fakeWriter{err: boom}}

	assert.NoError(t, w.WriteBatch(context.Background(), nil))
	assert.ErrorIs(t, w.WriteBatch(context.Background(), []audit.Event{{ID: "e"}}), boom)
}
