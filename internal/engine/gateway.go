package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/honeyagent/internal/agent"
	"github.com/xela07ax/honeyagent/internal/audit"
	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/identity"
	"go.uber.org/zap"
)

const (
	maxBodyBytes        = 1 << 20
	defaultFingerprints = 50
)

// AgentRequest тело POST /v1/agent/request.
type AgentRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

type agentView struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	IsHoneypot  bool   `json:"is_honeypot"`
}

// Gateway HTTP-поверхность над Core.
type Gateway struct {
	core   *Core
	audit  audit.Reader
	logger *zap.Logger
}

func NewGateway(core *Core, logger *zap.Logger) *Gateway {
	return &Gateway{core: core, logger: logger.With(zap.String("mod", "gateway"))}
}

// WithAuditReader включает GET /v1/audit. Без него ручка отвечает 501.
func (g *Gateway) WithAuditReader(r audit.Reader) *Gateway {
	g.audit = r
	return g
}

// Routes собирает chi роутер со всеми middleware.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(RequestLogger(g.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", g.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/agent/request", g.handleAgentRequest)
		r.Get("/agents", g.listAgents)
		r.Get("/fingerprints", g.listFingerprints)
		r.Get("/audit", g.listAudit)
		r.Post("/tools/{capability}", g.executeTool)
	})
	return r
}

func (g *Gateway) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "honeyagent"})
}

func (g *Gateway) handleAgentRequest(w http.ResponseWriter, r *http.Request) {
	var body AgentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req := agent.Request{Message: body.Message, SessionID: body.SessionID}
	if len(body.Context) > 0 {
		raw, _ := json.Marshal(body.Context)
		req.Context = string(raw)
	}

	reply := g.core.HandleRequest(r.Context(), identity.BearerToken(r.Header.Get("Authorization")), req)
	writeJSON(w, http.StatusOK, reply)
}

func (g *Gateway) listAgents(w http.ResponseWriter, _ *http.Request) {
	defs := g.core.Agents()
	views := make([]agentView, 0, len(defs))
	for _, d := range defs {
		views = append(views, agentView{
			Name:        d.DisplayName,
			Type:        d.Name,
			Description: d.Description,
			IsHoneypot:  d.IsHoneypot,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(views), "agents": views})
}

func (g *Gateway) listFingerprints(w http.ResponseWriter, r *http.Request) {
	n := defaultFingerprints
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 500 {
			n = v
		}
	}
	fps, err := g.core.Fingerprints(n)
	if err != nil {
		g.logger.Error("failed to read fingerprints", zap.Error(err))
		fps = nil
	}
	if fps == nil {
		fps = []domain.Fingerprint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(fps), "fingerprints": fps})
}

// GET /v1/audit?kind=...&agent_id=...&trace_id=...&limit=...
func (g *Gateway) listAudit(w http.ResponseWriter, r *http.Request) {
	if g.audit == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "audit query requires postgres sink"})
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Kind:    audit.Kind(q.Get("kind")),
		AgentID: q.Get("agent_id"),
		TraceID: q.Get("trace_id"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}

	events, err := g.audit.Fetch(r.Context(), f)
	if err != nil {
		g.logger.Error("failed to fetch audit events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch audit events"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(events), "events": events})
}

func (g *Gateway) executeTool(w http.ResponseWriter, r *http.Request) {
	cap := domain.Capability(chi.URLParam(r, "capability"))

	input := map[string]any{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&input); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	out, err := g.core.ExecuteTool(r.Context(), identity.BearerToken(r.Header.Get("Authorization")), cap, input)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, ErrNoCredential):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, ErrNotSelfRouted), errors.Is(err, agent.ErrCapabilityDenied),
		errors.Is(err, agent.ErrUnknownCapability), errors.Is(err, agent.ErrUnknownAgent):
		// Не уточняем, что именно не так
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, agent.ErrBadToolInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tool input"})
	default:
		g.logger.Error("tool execution failed",
			zap.String("capability", string(cap)),
			zap.String("trace_id", domain.TraceID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
