package policy

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MemoAuthorizer — in-memory реализация для dev и тестов.
// Все разрешено, кроме субъектов из deny-листа. Флаг unreachable эмулирует падение FGA.
type MemoAuthorizer struct {
	mu          sync.RWMutex
	denied      map[string]bool
	unreachable bool
	logger      *zap.Logger
}

func NewMemoAuthorizer(denied []string, logger *zap.Logger) *MemoAuthorizer {
	m := &MemoAuthorizer{
		denied: make(map[string]bool, len(denied)),
		logger: logger.Named("authorizer"),
	}
	for _, s := range denied {
		m.denied[s] = true
	}
	return m
}

func (m *MemoAuthorizer) Check(ctx context.Context, subjectID, resource string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Unreachable, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unreachable {
		return Unreachable, fmt.Errorf("%w: simulated outage", ErrUnreachable)
	}
	if m.denied[subjectID] {
		return Denied, nil
	}
	return Allowed, nil
}

// Deny добавляет субъекта в deny-лист.
func (m *MemoAuthorizer) Deny(subjectID string) {
	m.mu.Lock()
	m.denied[subjectID] = true
	m.mu.Unlock()
	m.logger.Info("subject denied", zap.String("subject", subjectID))
}

func (m *MemoAuthorizer) SetUnreachable(v bool) {
	m.mu.Lock()
	m.unreachable = v
	m.mu.Unlock()
}
