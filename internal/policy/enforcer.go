package policy

import (
	"context"
	"errors"
)

// Decision итог проверки в policy-сервисе. Три исхода, а не bool:
// "недоступен" должен отличаться от "запрещено".
type Decision int

const (
	Unreachable Decision = iota
	Allowed
	Denied
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unreachable"
	}
}

// ErrUnreachable оборачивает любую причину, по которой проверку не удалось завершить.
var ErrUnreachable = errors.New("policy service unreachable")

// Authorizer проверяет кортеж (subject, resource).
// При Unreachable реализация обязана вернуть ошибку с причиной (для логов).
type Authorizer interface {
	Check(ctx context.Context, subjectID, resource string) (Decision, error)
}
