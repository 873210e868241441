package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited — не дождались токена лимитера в пределах ctx.
var ErrRateLimited = errors.New("rate limit exceeded")

type GuardConfig struct {
	Name          string
	RatePerSecond float64
	Burst         int
	Attempts      uint
	CallTimeout   time.Duration // на одну попытку

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	// Сколько ошибок подряд открывают предохранитель
	CBFailures uint32
}

// Guard limiter -> circuit breaker -> retry вокруг внешнего вызова.
type Guard struct {
	cfg     GuardConfig
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewGuard(cfg GuardConfig, m *metrics.Metrics, logger *zap.Logger) *Guard {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.CBFailures == 0 {
		cfg.CBFailures = 5
	}
	logger = logger.With(zap.String("mod", "guard"), zap.String("dependency", cfg.Name))

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBFailures
		},
		IsSuccessful: func(err error) bool {
			// Отмена вызывающим и ошибки запроса не говорят о здоровье зависимости
			return err == nil || IsPermanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
			m.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	m.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	return &Guard{
		cfg:     cfg,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// Do выполняет fn под защитой. Каждая попытка получает свой ctx с таймаутом.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	// 2. Circuit Breaker
	_, err := g.cb.Execute(func() (interface{}, error) {
		// 3. Retry
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(g.cfg.Attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return !IsPermanent(err)
			}),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
			return fn(tCtx)
		})
	})
	return err
}

// Open предохранитель сейчас отсекает вызовы.
func (g *Guard) Open() bool {
	return g.cb.State() == gobreaker.StateOpen
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
