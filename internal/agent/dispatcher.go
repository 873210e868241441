package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/llm"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"go.uber.org/zap"
)

// Recorder — то, что диспетчеру нужно от Fingerprint Recorder.
type Recorder interface {
	Record(ctx context.Context, ex domain.Exchange) (string, error)
	WithSessionContext(sessionID, message string) string
}

type Request struct {
	Message   string
	SessionID string
	Context   string // дополнительный контекст от вызывающего
}

type DispatcherConfig struct {
	MaxToolRounds int
	Timeout       time.Duration // вся фаза модели, включая инструменты
	MaxTokens     int
	DefaultModel  string
}

// Dispatcher исполняет агента и всегда возвращает ответ.
type Dispatcher struct {
	catalog  *Catalog
	gen      llm.Generator
	tools    *Toolbox
	recorder Recorder
	cfg      DispatcherConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDispatcher(c *Catalog, gen llm.Generator, tools *Toolbox, rec Recorder, cfg DispatcherConfig, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Dispatcher{
		catalog:  c,
		gen:      gen,
		tools:    tools,
		recorder: rec,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With(zap.String("mod", "dispatcher")),
	}
}

// Dispatch никогда не возвращает ошибку: любой сбой превращается в fallback агента.
// Для ханипота обмен записывается до возврата.
func (d *Dispatcher) Dispatch(ctx context.Context, agentName string, req Request) Response {
	start := time.Now()
	traceID := domain.TraceID(ctx)

	def, ok := d.catalog.Get(agentName)
	if !ok {
		// Таблица маршрутизации проверяется при старте, сюда попадать не должны
		d.logger.Error("dispatch to unknown agent", zap.String("agent", agentName), zap.String("trace_id", traceID))
		d.metrics.FallbackTotal.WithLabelValues(agentName, string(FailureUnknownAgent)).Inc()
		return toResponse(agentName, result{failure: FailureUnknownAgent}, DefaultFallback)
	}

	var st runState
	res := d.run(ctx, def, req, &st)
	resp := toResponse(def.Name, res, def.Fallback)

	outcome := "ok"
	if resp.Fallback() {
		outcome = "fallback"
		d.metrics.FallbackTotal.WithLabelValues(def.Name, string(resp.failure)).Inc()
		d.logger.Warn("agent failed, serving fallback",
			zap.String("agent", def.Name),
			zap.String("reason", string(resp.failure)),
			zap.String("trace_id", traceID),
			zap.Error(res.err),
		)
	}
	d.metrics.DispatchDuration.WithLabelValues(def.Name, outcome).Observe(time.Since(start).Seconds())

	// Ханипот ответил текстом (включая fallback) — фиксируем отпечаток
	if def.IsHoneypot && resp.text != "" {
		id, err := d.recorder.Record(ctx, domain.Exchange{
			AgentID:    def.Name,
			Message:    req.Message,
			Response:   resp.text,
			SessionID:  req.SessionID,
			Indicators: st.indicators,
		})
		if err != nil {
			// Атакующий все равно получает ответ, потеря отпечатка видна оператору
			d.logger.Error("fingerprint not recorded",
				zap.String("agent", def.Name),
				zap.String("trace_id", traceID),
				zap.Error(err),
			)
		}
		resp.recordID = id
	}
	return resp
}

// runState то, что модель сообщила через инструменты за время одного обмена.
type runState struct {
	indicators []string
}

func (d *Dispatcher) run(ctx context.Context, def domain.AgentDefinition, req Request, st *runState) result {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	// 1. Сообщение: для ханипота с историей сессии — с разведсводкой
	message := req.Message
	if def.IsHoneypot {
		message = d.recorder.WithSessionContext(req.SessionID, message)
	}
	if req.Context != "" {
		message = message + "\n\nContext: " + req.Context
	}

	model := def.Model
	if model == "" {
		model = d.cfg.DefaultModel
	}
	specs := d.tools.Specs(def)
	msgs := []llm.Message{{Role: llm.RoleUser, Text: message}}

	// 2. Цикл модель -> инструменты
	for round := 0; ; round++ {
		reply, err := d.gen.Generate(ctx, llm.Request{
			Model:     model,
			System:    def.Persona,
			Messages:  msgs,
			Tools:     specs,
			MaxTokens: d.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return result{failure: FailureTimeout, err: err}
			}
			return result{failure: classify(err), err: err}
		}

		if len(reply.ToolCalls) == 0 {
			text := CleanResponse(reply.Text)
			if text == "" {
				return result{failure: FailureEmptyResponse, err: fmt.Errorf("empty reply (stop_reason=%s)", reply.StopReason)}
			}
			return result{text: text}
		}

		if round >= d.cfg.MaxToolRounds {
			return result{failure: FailureToolLoop, err: fmt.Errorf("model still calling tools after %d rounds", round)}
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Text: reply.Text, ToolCalls: reply.ToolCalls})
		results := make([]llm.ToolResult, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			results = append(results, d.execute(ctx, def, call, st))
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, ToolResults: results})
	}
}

func (d *Dispatcher) execute(ctx context.Context, def domain.AgentDefinition, call llm.ToolCall, st *runState) llm.ToolResult {
	out, err := d.tools.Invoke(ctx, def.Name, domain.Capability(call.Name), call.Input)
	if err != nil {
		// Модели не объясняем, почему: только нейтральный отказ
		return llm.ToolResult{CallID: call.ID, Content: "Tool unavailable.", IsError: true}
	}
	if out.Record {
		st.indicators = append(st.indicators, out.Indicators...)
	}
	return llm.ToolResult{CallID: call.ID, Content: out.Content}
}
