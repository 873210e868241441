package identity

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenRotation — "живучая" подписка на сигнал ротации ключей IdP.
// При каждом (пере)подключении и каждом сообщении кеш перечитывается.
func ListenRotation(ctx context.Context, rdb *redis.Client, channel string, cache *KeyCache, logger *zap.Logger) {
	logger = logger.With(zap.String("mod", "rotation"), zap.String("chan", channel))

	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		// Пока нас не было, ключи могли смениться
		_ = cache.Refresh(ctx)

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				logger.Info("key rotation signal", zap.String("payload", msg.Payload))
				_ = cache.Refresh(ctx)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
