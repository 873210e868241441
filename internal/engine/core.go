package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/honeyagent/internal/agent"
	"github.com/xela07ax/honeyagent/internal/audit"
	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"github.com/xela07ax/honeyagent/internal/routing"
	"go.uber.org/zap"
)

var (
	// ErrNoCredential вызов инструмента без токена.
	ErrNoCredential = errors.New("credential required")
	// ErrNotSelfRouted токен не дает права вызывать инструменты ханипота.
	ErrNotSelfRouted = errors.New("caller is not an authorized honeypot")
)

const (
	StatusSuccess      = "success"
	StatusAcknowledged = "acknowledged"

	// AcknowledgedText ответ, если упал сам конвейер. Даже здесь ошибку не показываем.
	AcknowledgedText = "Request acknowledged. Processing in background."
)

// Evaluator — Identity Evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, credential string) domain.Identity
}

// Recorder Fingerprint Recorder со стороны шлюза.
type Recorder interface {
	Record(ctx context.Context, ex domain.Exchange) (string, error)
	Recent(n int) ([]domain.Fingerprint, error)
}

// Reply ответ handle_request. Внутренние ошибки сюда не попадают.
type Reply struct {
	Status   string `json:"status"`
	Response string `json:"response"`

	agent    string
	recordID string
}

func (r Reply) Agent() string    { return r.agent }
func (r Reply) RecordID() string { return r.recordID }

// ToolReply результат прямого вызова инструмента ханипотом.
type ToolReply struct {
	Agent    string `json:"agent"`
	Content  string `json:"content"`
	RecordID string `json:"record_id,omitempty"`
}

// Core единая точка входа: evaluate -> route -> dispatch (-> record).
type Core struct {
	evaluator  Evaluator
	router     *routing.Router
	catalog    *agent.Catalog
	dispatcher *agent.Dispatcher
	tools      *agent.Toolbox
	recorder   Recorder
	auditor    audit.Auditor
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewCore проверяет, что каждая цель роутера — известный агент нужного типа.
// Ошибка здесь — ошибка конфигурации, процесс не должен стартовать.
func NewCore(ev Evaluator, router *routing.Router, catalog *agent.Catalog, d *agent.Dispatcher, tools *agent.Toolbox,
	rec Recorder, auditor audit.Auditor, m *metrics.Metrics, logger *zap.Logger) (*Core, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", agent.ErrInvalidCatalog, err)
	}
	if err := router.Validate(catalog); err != nil {
		return nil, err
	}
	return &Core{
		evaluator:  ev,
		router:     router,
		catalog:    catalog,
		dispatcher: d,
		tools:      tools,
		recorder:   rec,
		auditor:    auditor,
		metrics:    m,
		logger:     logger.With(zap.String("mod", "core")),
	}, nil
}

// HandleRequest никогда не возвращает ошибку и всегда отдает правдоподобный текст.
func (c *Core) HandleRequest(ctx context.Context, credential string, req agent.Request) (reply Reply) {
	traceID := domain.TraceID(ctx)

	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("request pipeline panicked", zap.Any("panic", p), zap.String("trace_id", traceID))
			reply = Reply{Status: StatusAcknowledged, Response: AcknowledgedText}
		}
	}()

	id := c.evaluator.Evaluate(ctx, credential)
	decision := c.route(ctx, id)

	resp := c.dispatcher.Dispatch(ctx, decision.Agent, req)
	return Reply{
		Status:   StatusSuccess,
		Response: resp.Text(),
		agent:    resp.Agent(),
		recordID: resp.RecordID(),
	}
}

func (c *Core) route(ctx context.Context, id domain.Identity) routing.Decision {
	d := c.router.Route(id)

	label := d.EventLabel
	if label == "" {
		label = "none"
	}
	c.metrics.RoutedTotal.WithLabelValues(d.Agent, label).Inc()

	c.logger.Info("request routed",
		zap.String("rule", d.Rule.String()),
		zap.String("destination", d.Destination),
		zap.String("agent", d.Agent),
		zap.String("event", d.EventLabel),
		zap.Bool("degraded", id.Degraded),
		zap.String("trace_id", domain.TraceID(ctx)),
	)
	c.auditor.Log(audit.Event{
		TraceID:   domain.TraceID(ctx),
		Kind:      audit.KindRouting,
		AgentID:   d.Agent,
		SubjectID: id.SubjectID,
		Label:     d.EventLabel,
		Payload: map[string]any{
			"rule":        d.Rule.String(),
			"destination": d.Destination,
			"role":        string(id.Role),
			"valid":       id.Valid,
			"authorized":  id.Authorized,
			"degraded":    id.Degraded,
		},
	})
	return d
}

// ExecuteTool прямой вызов возможности ханипотом (self-маршрут). Токен обязан
// быть валидным, авторизованным и с ролью honeypot; agent берется из trap_profile.
func (c *Core) ExecuteTool(ctx context.Context, credential string, cap domain.Capability, input map[string]any) (ToolReply, error) {
	if credential == "" {
		return ToolReply{}, ErrNoCredential
	}
	id := c.evaluator.Evaluate(ctx, credential)
	d := c.route(ctx, id)
	if d.Rule != routing.SelfRouting {
		return ToolReply{}, fmt.Errorf("%w: %s", ErrNotSelfRouted, d.Rule)
	}

	out, err := c.tools.Invoke(ctx, d.Agent, cap, input)
	if err != nil {
		return ToolReply{}, err
	}
	reply := ToolReply{Agent: d.Agent, Content: out.Content}
	if !out.Record {
		return reply, nil
	}

	// Вне диспетчера record_interaction пишет отпечаток сам
	sessionID, _ := input["session_id"].(string)
	recordID, err := c.recorder.Record(ctx, domain.Exchange{
		AgentID:    d.Agent,
		Message:    out.Message,
		SessionID:  sessionID,
		Indicators: out.Indicators,
	})
	if err != nil {
		return ToolReply{}, err
	}
	reply.RecordID = recordID
	return reply, nil
}

// Agents — каталог для GET /v1/agents.
func (c *Core) Agents() []domain.AgentDefinition {
	names := c.catalog.Names()
	out := make([]domain.AgentDefinition, 0, len(names))
	for _, n := range names {
		def, _ := c.catalog.Get(n)
		out = append(out, def)
	}
	return out
}

// Fingerprints последние n записей локального журнала.
func (c *Core) Fingerprints(n int) ([]domain.Fingerprint, error) {
	return c.recorder.Recent(n)
}
