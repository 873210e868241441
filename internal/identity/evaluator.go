package identity

import (
	"context"
	"strings"
	"time"

	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"github.com/xela07ax/honeyagent/internal/policy"
	"go.uber.org/zap"
)

// ResourceSwarm ресурс, доступ к которому проверяется для каждого агента.
const ResourceSwarm = "swarm"

// Evaluator превращает сырой токен в domain.Identity. Никогда не возвращает ошибку:
// все сбои сводятся к Anonymous() или к fail-open авторизации.
type Evaluator struct {
	validator    *Validator
	authz        policy.Authorizer
	checkTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewEvaluator(v *Validator, authz policy.Authorizer, checkTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Evaluator {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &Evaluator{
		validator:    v,
		authz:        authz,
		checkTimeout: checkTimeout,
		metrics:      m,
		logger:       logger.With(zap.String("mod", "identity")),
	}
}

func (e *Evaluator) Evaluate(ctx context.Context, credential string) domain.Identity {
	// 1. Нет токена — обычный анонимный вход, не ошибка
	if strings.TrimSpace(credential) == "" {
		e.metrics.IdentityRejectedTotal.WithLabelValues("absent").Inc()
		return domain.Anonymous()
	}

	// 2. Подпись, срок, issuer/audience
	claims, err := e.validator.VerifyToken(ctx, credential)
	if err != nil {
		reason := rejectReason(err)
		e.metrics.IdentityRejectedTotal.WithLabelValues(reason).Inc()
		e.logger.Info("credential rejected", zap.String("reason", reason), zap.Error(err))
		return domain.Anonymous()
	}

	id := domain.Identity{
		Valid:     true,
		SubjectID: claims.Subject,
		Role:      domain.ParseRole(claims.AgentType),
		Profile:   claims.Profile,
	}

	// 3. FGA. Недоступность — fail-open, громко
	checkCtx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	decision, err := e.authz.Check(checkCtx, claims.Subject, ResourceSwarm)
	switch decision {
	case policy.Allowed:
		id.Authorized = true
	case policy.Denied:
		id.Authorized = false
	default:
		id.Authorized = true
		id.Degraded = true
		e.metrics.AuthzDegradedTotal.Inc()
		e.logger.Warn("authorization degraded: failing open",
			zap.String("subject", claims.Subject),
			zap.String("role", string(id.Role)),
			zap.Error(err),
		)
	}
	return id
}

// BearerToken достает токен из заголовка Authorization. Пустая строка — токена нет.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
