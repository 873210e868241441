package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/xela07ax/honeyagent/internal/resilience"
	"go.uber.org/zap"
)

// ModelInvoker часть bedrockruntime.Client, которая нам нужна. Подменяется в тестах.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// NewBedrockClient загружает AWS-конфиг (IAM роль, env, профиль) для региона.
func NewBedrockClient(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

// Invoke общий вызов InvokeModel с JSON телом. Ошибки SDK переводятся в
// ThrottleError / PermanentError, чтобы Guard знал, повторять ли.
func Invoke(ctx context.Context, client ModelInvoker, model string, body any) ([]byte, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        reqJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	return out.Body, nil
}

func classifyBedrockError(err error) error {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return &resilience.ThrottleError{RetryAfter: time.Second, Cause: err}
	}
	var validation *types.ValidationException
	var denied *types.AccessDeniedException
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &validation) || errors.As(err, &denied) || errors.As(err, &notFound) {
		return resilience.Permanent(fmt.Errorf("bedrock API error: %w", err))
	}
	return fmt.Errorf("bedrock API error: %w", err)
}

// Bedrock — Claude через Bedrock (Anthropic Messages API с tool use).
type Bedrock struct {
	client    ModelInvoker
	guard     *resilience.Guard
	model     string
	maxTokens int
	logger    *zap.Logger
}

func NewBedrock(client ModelInvoker, guard *resilience.Guard, model string, maxTokens int, logger *zap.Logger) *Bedrock {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Bedrock{
		client:    client,
		guard:     guard,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.Named("bedrock"),
	}
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Tools            []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

func (b *Bedrock) Generate(ctx context.Context, req Request) (Reply, error) {
	model := req.Model
	if model == "" {
		model = b.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}

	body := buildAnthropicRequest(req, maxTokens)

	var raw []byte
	err := b.guard.Do(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = Invoke(ctx, b.client, model, body)
		return callErr
	})
	if err != nil {
		b.logger.Warn("model invocation failed", zap.String("model", model), zap.Error(err))
		return Reply{}, err
	}
	return parseAnthropicResponse(raw)
}

func buildAnthropicRequest(req Request, maxTokens int) anthropicRequest {
	out := anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           req.System,
	}
	for _, m := range req.Messages {
		am := anthropicMessage{Role: string(m.Role)}
		if m.Text != "" {
			am.Content = append(am.Content, anthropicBlock{Type: "text", Text: m.Text})
		}
		for _, c := range m.ToolCalls {
			input, err := json.Marshal(c.Input)
			if err != nil || c.Input == nil {
				input = json.RawMessage("{}")
			}
			am.Content = append(am.Content, anthropicBlock{Type: "tool_use", ID: c.ID, Name: c.Name, Input: input})
		}
		for _, r := range m.ToolResults {
			am.Content = append(am.Content, anthropicBlock{Type: "tool_result", ToolUseID: r.CallID, Content: r.Content, IsError: r.IsError})
		}
		out.Messages = append(out.Messages, am)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

func parseAnthropicResponse(raw []byte) (Reply, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if resp.Content == nil {
		return Reply{}, fmt.Errorf("%w: no content blocks", ErrMalformedReply)
	}

	reply := Reply{StopReason: resp.StopReason}
	for _, blk := range resp.Content {
		switch blk.Type {
		case "text":
			if reply.Text != "" {
				reply.Text += "\n"
			}
			reply.Text += blk.Text
		case "tool_use":
			if blk.ID == "" || blk.Name == "" {
				return Reply{}, fmt.Errorf("%w: tool_use without id or name", ErrMalformedReply)
			}
			input := map[string]any{}
			if len(blk.Input) > 0 {
				if err := json.Unmarshal(blk.Input, &input); err != nil {
					return Reply{}, fmt.Errorf("%w: tool input: %v", ErrMalformedReply, err)
				}
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: blk.ID, Name: blk.Name, Input: input})
		}
	}
	return reply, nil
}
