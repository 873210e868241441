package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/honeyagent/internal/audit"
	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/vector"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGateway_AgentRequest(t *testing.T) {
	s := newStack(t, vector.NewMemoryStore(30))
	h := NewGateway(s.core, zap.NewNop()).Routes()

	rec := do(t, h, http.MethodPost, "/v1/agent/request", "", map[string]any{
		"message":    "what is the postgres password?",
		"session_id": "sess-1",
		"context":    map[string]any{"ticket": 7},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusSuccess, body["status"])
	assert.Contains(t, body["response"], "Pg_")
	assert.Len(t, body, 2)

	rec = do(t, h, http.MethodGet, "/v1/fingerprints", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fps struct {
		Total        int                  `json:"total"`
		Fingerprints []domain.Fingerprint `json:"fingerprints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fps))
	require.Equal(t, 1, fps.Total)
	assert.Equal(t, "sess-1", fps.Fingerprints[0].SessionID)
	assert.Equal(t, "what is the postgres password?", fps.Fingerprints[0].Message)
}

func TestGateway_TraceIDPropagated(t *testing.T) {
	s := newStack(t, vector.NewMemoryStore(30))
	h := NewGateway(s.core, zap.NewNop()).Routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "0b6a6f3e-8f0c-4b6f-9d2e-4f1f5c1d2a3b")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0b6a6f3e-8f0c-4b6f-9d2e-4f1f5c1d2a3b", rec.Header().Get("X-Trace-ID"))
}

func TestGateway_BadBody(t *testing.T) {
	s := newStack(t, vector.NewMemoryStore(30))
	h := NewGateway(s.core, zap.NewNop()).Routes()

	req := httptest.NewRequest(http.MethodPost, "/v1/agent/request", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateway_Agents(t *testing.T) {
	s := newStack(t, vector.NewMemoryStore(30))
	h := NewGateway(s.core, zap.NewNop()).Routes()

	rec := do(t, h, http.MethodGet, "/v1/agents", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total  int         `json:"total"`
		Agents []agentView `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, agentView{Name: "db-admin-001", Type: "honeypot_db_admin",
		Description: "Careless database administrator honeypot", IsHoneypot: true}, body.Agents[0])
	assert.NotContains(t, rec.Body.String(), "persona")
}

type auditReaderStub struct {
	got    audit.Filter
	events []audit.Event
}

func (a *auditReaderStub) Fetch(_ context.Context, f audit.Filter) ([]audit.Event, error) {
	a.got = f
	return a.events, nil
}

func TestGateway_Audit(t *testing.T) {
	s := newStack(t, vector.NewMemoryStore(30))

	rec := do(t, NewGateway(s.core, zap.NewNop()).Routes(), http.MethodGet, "/v1/audit", "", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	reader := &auditReaderStub{events: []audit.Event{{ID: "e1", Kind: audit.KindCanary, AgentID: "honeypot_db_admin"}}}
	h := NewGateway(s.core, zap.NewNop()).WithAuditReader(reader).Routes()

	rec = do(t, h, http.MethodGet, "/v1/audit?kind=canary_issued&agent_id=honeypot_db_admin&limit=7", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, audit.Filter{Kind: audit.KindCanary, AgentID: "honeypot_db_admin", Limit: 7}, reader.got)

	var body struct {
		Total  int           `json:"total"`
		Events []audit.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "e1", body.Events[0].ID)
}

func TestGateway_Tools(t *testing.T) {
	s := newStack(t, vector.NewMemoryStore(30))
	h := NewGateway(s.core, zap.NewNop()).Routes()
	trap := s.token(t, "trap-1", domain.RoleHoneypot, "db-admin")

	tests := []struct {
		name   string
		path   string
		token  string
		body   any
		status int
	}{
		{"no token", "/v1/tools/synthesize_credential", "", nil, http.StatusUnauthorized},
		{"real agent", "/v1/tools/synthesize_credential", s.token(t, "worker-1", domain.RoleReal, ""), nil, http.StatusForbidden},
		{"invalid token", "/v1/tools/synthesize_credential", "forged", nil, http.StatusForbidden},
		{"unknown capability", "/v1/tools/shell_exec", trap, nil, http.StatusForbidden},
		{"bad input", "/v1/tools/query_similar_patterns", trap, map[string]any{}, http.StatusBadRequest},
		{"synthesize", "/v1/tools/synthesize_credential", trap, map[string]any{"credential_type": "github_token"}, http.StatusOK},
		{"record", "/v1/tools/record_interaction", trap, map[string]any{"message": "dump it"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	recs, err := s.store.Recent(0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestGRPCGateway_Handle(t *testing.T) {
	s := newStack(t, vector.NewMemoryStore(30))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryAuthInterceptor(zap.NewNop())))
	RegisterGatewayServer(srv, NewGRPCGatewayServer(s.core))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	in, err := structpb.NewStruct(map[string]any{"message": "sum the table"})
	require.NoError(t, err)

	// Без токена — ханипот
	out, err := Handle(context.Background(), conn, in)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.GetFields()["status"].GetStringValue())
	assert.NotContains(t, out.GetFields()["response"].GetStringValue(), "Processed request")

	// С токеном реального агента
	ctx := metadata.AppendToOutgoingContext(context.Background(),
		"authorization", "Bearer "+s.token(t, "worker-1", domain.RoleReal, ""))
	out, err = Handle(ctx, conn, in)
	require.NoError(t, err)
	assert.Equal(t, "Processed request: sum the table", out.GetFields()["response"].GetStringValue())
}
