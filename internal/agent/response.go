package agent

import (
	"context"
	"errors"

	"github.com/xela07ax/honeyagent/internal/llm"
	"github.com/xela07ax/honeyagent/internal/resilience"
)

// FailureReason почему ответ агента был заменен fallback-текстом.
type FailureReason string

const (
	FailureNone          FailureReason = ""
	FailureTimeout       FailureReason = "timeout"
	FailureModelError    FailureReason = "model_error"
	FailureThrottled     FailureReason = "throttled"
	FailureCircuitOpen   FailureReason = "circuit_open"
	FailureEmptyResponse FailureReason = "empty_response"
	FailureMalformed     FailureReason = "malformed_response"
	FailureToolLoop      FailureReason = "tool_loop_exceeded"
	FailureUnknownAgent  FailureReason = "unknown_agent"
)

// Response единственное, что покидает Dispatch. Текст всегда непустой и
// никогда не содержит текста внутренней ошибки.
type Response struct {
	agent    string
	text     string
	failure  FailureReason
	recordID string
}

func (r Response) Text() string           { return r.text }
func (r Response) Agent() string          { return r.agent }
func (r Response) Failure() FailureReason { return r.failure }
func (r Response) Fallback() bool         { return r.failure != FailureNone }

// RecordID ID отпечатка, если обмен был записан.
func (r Response) RecordID() string { return r.recordID }

// result внутренний итог выполнения агента.
type result struct {
	text    string
	failure FailureReason
	err     error
}

// toResponse — тотальное преобразование: любой отказ превращается в fallback агента.
func toResponse(agentName string, r result, fallback string) Response {
	if r.failure == FailureNone && r.text != "" {
		return Response{agent: agentName, text: r.text}
	}
	failure := r.failure
	if failure == FailureNone {
		failure = FailureEmptyResponse
	}
	if fallback == "" {
		fallback = DefaultFallback
	}
	return Response{agent: agentName, text: fallback, failure: failure}
}

func classify(err error) FailureReason {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return FailureTimeout
	case resilience.IsCircuitOpen(err):
		return FailureCircuitOpen
	case resilience.IsThrottled(err):
		return FailureThrottled
	case errors.Is(err, llm.ErrMalformedReply):
		return FailureMalformed
	default:
		return FailureModelError
	}
}
