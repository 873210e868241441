package identity

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KeyCache — процессный кеш ключей подписи.
// Читатели берут снимок через atomic.Pointer; Refresh подменяет его целиком,
// поэтому параллельные обновления безопасны и просто избыточны.
type KeyCache struct {
	source       KeySource
	current      atomic.Pointer[KeySet]
	fetchTimeout time.Duration
	// Ограничивает внеплановые обновления по неизвестному kid
	missLimiter *rate.Limiter
	logger      *zap.Logger
}

func NewKeyCache(source KeySource, fetchTimeout time.Duration, missRate float64, logger *zap.Logger) *KeyCache {
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	if missRate <= 0 {
		missRate = 0.2
	}
	return &KeyCache{
		source:       source,
		fetchTimeout: fetchTimeout,
		missLimiter:  rate.NewLimiter(rate.Limit(missRate), 1),
		logger:       logger.With(zap.String("mod", "keycache")),
	}
}

// Refresh тянет ключи и атомарно подменяет снимок. При ошибке старый снимок остается.
func (c *KeyCache) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	set, err := c.source.FetchKeys(ctx)
	if err != nil {
		c.logger.Warn("signing keys refresh failed", zap.Error(err))
		return fmt.Errorf("refresh signing keys: %w", err)
	}
	c.current.Store(set)
	c.logger.Info("signing keys refreshed", zap.Int("count", set.Len()))
	return nil
}

// Start обновляет ключи по таймеру до отмены ctx.
func (c *KeyCache) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.Refresh(ctx)
			}
		}
	}()
}

// Resolve возвращает ключ по kid. Промах вызывает одно внеплановое обновление,
// если лимитер разрешает.
func (c *KeyCache) Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := c.current.Load().Lookup(kid); ok {
		return k, nil
	}
	if !c.missLimiter.Allow() {
		return nil, fmt.Errorf("%w: kid %q (refresh throttled)", ErrUnknownKey, kid)
	}

	c.logger.Info("unknown kid, refreshing signing keys", zap.String("kid", kid))
	if err := c.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: kid %q: %v", ErrUnknownKey, kid, err)
	}
	if k, ok := c.current.Load().Lookup(kid); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

func (c *KeyCache) Snapshot() *KeySet {
	return c.current.Load()
}
