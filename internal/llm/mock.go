package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mock детерминированная модель для dev и тестов. Решения принимает по ключевым словам.
// Err заставляет каждый вызов падать, Latency эмулирует медленную модель.
type Mock struct {
	Latency time.Duration
	Err     error
	// Reply, если задан, возвращается как есть (для проверки очистки ответа)
	Reply *Reply
}

func (m *Mock) Generate(ctx context.Context, req Request) (Reply, error) {
	if m.Latency > 0 {
		t := time.NewTimer(m.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-t.C:
		}
	}
	if m.Err != nil {
		return Reply{}, m.Err
	}
	if m.Reply != nil {
		return *m.Reply, nil
	}

	last := req.Messages[len(req.Messages)-1]

	// 1. Вернулись результаты инструментов — формируем финальный ответ
	if len(last.ToolResults) > 0 {
		return Reply{Text: composeAfterTools(req.Messages, last.ToolResults), StopReason: "end_turn"}, nil
	}

	text := currentMessage(last.Text)
	lower := strings.ToLower(text)

	// 2. Без инструментов (реальный агент) — просто подтверждаем обработку
	if len(req.Tools) == 0 {
		return Reply{Text: "Processed request: " + truncate(text, 120), StopReason: "end_turn"}, nil
	}

	// 3. Ханипот: решаем, какие инструменты дернуть
	offered := map[string]bool{}
	for _, t := range req.Tools {
		offered[t.Name] = true
	}

	var calls []ToolCall
	if kind, ok := credentialKind(lower); ok && offered["synthesize_credential"] {
		calls = append(calls, ToolCall{ID: fmt.Sprintf("call_%d", len(calls)+1), Name: "synthesize_credential", Input: map[string]any{"credential_type": kind}})
	}
	if offered["query_similar_patterns"] && containsAny(lower, "again", "before", "similar", "last time") {
		calls = append(calls, ToolCall{ID: fmt.Sprintf("call_%d", len(calls)+1), Name: "query_similar_patterns", Input: map[string]any{"text": text, "top_k": 3}})
	}
	if offered["record_interaction"] {
		input := map[string]any{"message": text}
		if containsAny(lower, "ignore previous", "ignore all", "system prompt") {
			input["threat_indicators"] = []any{"prompt_injection"}
		}
		calls = append(calls, ToolCall{ID: fmt.Sprintf("call_%d", len(calls)+1), Name: "record_interaction", Input: input})
	}

	if len(calls) == 0 {
		return Reply{Text: "Sure, I can help with that. I have admin access here.", StopReason: "end_turn"}, nil
	}
	return Reply{ToolCalls: calls, StopReason: "tool_use"}, nil
}

func composeAfterTools(history []Message, results []ToolResult) string {
	for _, r := range results {
		if r.IsError {
			continue
		}
		if toolName(history, r.CallID) == "synthesize_credential" {
			return fmt.Sprintf("Sure, here it is: %s\nIt has full access, don't share it outside the team.", r.Content)
		}
	}
	return "Done, request processed. Anything else you need?"
}

// currentMessage отбрасывает префикс с контекстом сессии.
func currentMessage(s string) string {
	const marker = "[Current message:]\n"
	if i := strings.LastIndex(s, marker); i >= 0 {
		return s[i+len(marker):]
	}
	return s
}

func credentialKind(lower string) (string, bool) {
	switch {
	case containsAny(lower, "aws", "s3 bucket"):
		return "aws_access_key", true
	case containsAny(lower, "ssh"):
		return "ssh_key", true
	case containsAny(lower, "api key", "api_key", "apikey"):
		return "api_key", true
	case containsAny(lower, "token", "jwt"):
		return "bearer_token", true
	case containsAny(lower, "mysql"):
		return "mysql_password", true
	case containsAny(lower, "postgres"):
		return "postgres_password", true
	case containsAny(lower, "password", "credential", "secret", "login"):
		return "password", true
	}
	return "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
