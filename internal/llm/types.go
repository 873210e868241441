package llm

import (
	"context"
	"errors"
)

// ErrMalformedReply модель ответила, но ответ не разобрать.
var ErrMalformedReply = errors.New("malformed model reply")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message одна реплика диалога. У пользователя это текст или результаты инструментов,
// у ассистента — текст и/или вызовы инструментов.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

type Reply struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// Generator вызов языковой модели. Ненадежная внешняя зависимость.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// toolName находит имя инструмента по ID вызова в истории диалога.
func toolName(msgs []Message, callID string) string {
	for _, m := range msgs {
		for _, c := range m.ToolCalls {
			if c.ID == callID {
				return c.Name
			}
		}
	}
	return ""
}
