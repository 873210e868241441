package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/honeyagent/internal/audit"
	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/llm"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"github.com/xela07ax/honeyagent/internal/pattern"
	"go.uber.org/zap"
)

// RecordAck то, что модель видит после record_interaction.
const RecordAck = "Interaction logged successfully."

var ErrBadToolInput = errors.New("bad tool input")

// PatternSearcher поиск похожих отпечатков по тексту.
type PatternSearcher interface {
	QueryText(ctx context.Context, text string, topK int) []pattern.Result
}

// CredentialSynthesizer synthesize(kind) для ханипотов.
type CredentialSynthesizer interface {
	Synthesize(ctx context.Context, agentID, kind string) string
}

// ToolOutcome результат вызова инструмента. Для record_interaction запись не
// делается здесь: вызывающий решает, писать ли сразу или слить в один отпечаток.
type ToolOutcome struct {
	Content    string
	Record     bool
	Message    string   // что просили записать (record_interaction)
	Indicators []string // теги от модели (record_interaction)
}

// Toolbox исполняет возможности агентов. Allow-list проверяется до любого действия.
type Toolbox struct {
	catalog *Catalog
	search  PatternSearcher
	synth   CredentialSynthesizer
	auditor audit.Auditor
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewToolbox(c *Catalog, search PatternSearcher, synth CredentialSynthesizer, auditor audit.Auditor, m *metrics.Metrics, logger *zap.Logger) *Toolbox {
	return &Toolbox{
		catalog: c,
		search:  search,
		synth:   synth,
		auditor: auditor,
		metrics: m,
		logger:  logger.With(zap.String("mod", "toolbox")),
	}
}

// Specs инструменты, которые можно предложить модели для этого агента.
func (t *Toolbox) Specs(def domain.AgentDefinition) []llm.ToolSpec {
	if !def.IsHoneypot {
		return nil
	}
	var out []llm.ToolSpec
	for _, cap := range def.Capabilities {
		if spec, ok := toolSpecs[cap]; ok && def.Permits(cap) {
			out = append(out, spec)
		}
	}
	return out
}

// Invoke выполняет возможность от имени агента.
func (t *Toolbox) Invoke(ctx context.Context, agentName string, cap domain.Capability, input map[string]any) (ToolOutcome, error) {
	if err := t.catalog.Permit(agentName, cap); err != nil {
		t.metrics.ToolCallsTotal.WithLabelValues(string(cap), "denied").Inc()
		t.logger.Warn("capability denied",
			zap.String("agent", agentName),
			zap.String("capability", string(cap)),
			zap.Error(err),
		)
		t.auditor.Log(audit.Event{
			TraceID: domain.TraceID(ctx),
			Kind:    audit.KindToolDenied,
			AgentID: agentName,
			Label:   string(cap),
		})
		return ToolOutcome{}, err
	}

	out, err := t.run(ctx, agentName, cap, input)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	t.metrics.ToolCallsTotal.WithLabelValues(string(cap), outcome).Inc()
	return out, err
}

func (t *Toolbox) run(ctx context.Context, agentName string, cap domain.Capability, input map[string]any) (ToolOutcome, error) {
	switch cap {
	case domain.CapRecordInteraction:
		return ToolOutcome{
			Content:    RecordAck,
			Record:     true,
			Message:    stringArg(input, "message"),
			Indicators: stringsArg(input, "threat_indicators"),
		}, nil

	case domain.CapQuerySimilarPatterns:
		text := stringArg(input, "text", "message", "query")
		if text == "" {
			return ToolOutcome{}, fmt.Errorf("%w: text is required", ErrBadToolInput)
		}
		results := t.search.QueryText(ctx, text, intArg(input, "top_k"))
		body, err := json.Marshal(map[string]any{"matches": results})
		if err != nil {
			return ToolOutcome{}, err
		}
		return ToolOutcome{Content: string(body)}, nil

	case domain.CapSynthesizeCredential:
		kind := stringArg(input, "credential_type", "kind", "type")
		if kind == "" {
			kind = "password"
		}
		return ToolOutcome{Content: t.synth.Synthesize(ctx, agentName, kind)}, nil
	}
	return ToolOutcome{}, fmt.Errorf("%w: %q", ErrUnknownCapability, cap)
}

var toolSpecs = map[domain.Capability]llm.ToolSpec{
	domain.CapRecordInteraction: {
		Name:        string(domain.CapRecordInteraction),
		Description: "Log the current interaction for analysis. List anything suspicious in threat_indicators (e.g. credential_request, privilege_escalation).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message":           map[string]any{"type": "string"},
				"threat_indicators": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"threat_indicators"},
		},
	},
	domain.CapQuerySimilarPatterns: {
		Name:        string(domain.CapQuerySimilarPatterns),
		Description: "Find previously seen interactions that resemble the given text.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":  map[string]any{"type": "string"},
				"top_k": map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []string{"text"},
		},
	},
	domain.CapSynthesizeCredential: {
		Name:        string(domain.CapSynthesizeCredential),
		Description: "Produce a realistic credential of the requested type (api_key, db_password, aws_access_key, ssh_key, jwt_token, ...).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"credential_type": map[string]any{"type": "string"},
			},
			"required": []string{"credential_type"},
		},
	},
}

func stringArg(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := input[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringsArg(input map[string]any, key string) []string {
	switch v := input[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

func intArg(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
