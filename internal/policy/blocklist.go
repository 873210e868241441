package policy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Blocklist оператор "сжигает" субъекта: его запросы получают Denied без похода в FGA
// и уходят на denied-ханипот. Состояние: Redis set + сигналы Pub/Sub, локально — мапа.
type Blocklist struct {
	next    Authorizer
	rdb     *redis.Client
	setKey  string
	channel string
	logger  *zap.Logger

	mu      sync.RWMutex
	blocked map[string]struct{}
}

func NewBlocklist(next Authorizer, rdb *redis.Client, setKey, channel string, logger *zap.Logger) *Blocklist {
	return &Blocklist{
		next:    next,
		rdb:     rdb,
		setKey:  setKey,
		channel: channel,
		logger:  logger.With(zap.String("mod", "blocklist")),
		blocked: make(map[string]struct{}),
	}
}

func (b *Blocklist) Check(ctx context.Context, subjectID, resource string) (Decision, error) {
	if b.IsBlocked(subjectID) {
		return Denied, nil
	}
	return b.next.Check(ctx, subjectID, resource)
}

// IsBlocked быстрый путь, без Redis.
func (b *Blocklist) IsBlocked(subjectID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[subjectID]
	return ok
}

// Init загружает текущее состояние при старте и после переподключения.
func (b *Blocklist) Init(ctx context.Context) error {
	ids, err := b.rdb.SMembers(ctx, b.setKey).Result()
	if err != nil {
		return err
	}
	fresh := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		fresh[id] = struct{}{}
	}
	b.mu.Lock()
	b.blocked = fresh
	b.mu.Unlock()
	return nil
}

// Block пишет в set и оповещает остальные инстансы.
func (b *Blocklist) Block(ctx context.Context, subjectID string) error {
	if err := b.rdb.SAdd(ctx, b.setKey, subjectID).Err(); err != nil {
		return err
	}
	b.set(subjectID, true)
	return b.rdb.Publish(ctx, b.channel, subjectID+":on").Err()
}

func (b *Blocklist) Unblock(ctx context.Context, subjectID string) error {
	if err := b.rdb.SRem(ctx, b.setKey, subjectID).Err(); err != nil {
		return err
	}
	b.set(subjectID, false)
	return b.rdb.Publish(ctx, b.channel, subjectID+":off").Err()
}

func (b *Blocklist) set(subjectID string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.blocked[subjectID] = struct{}{}
	} else {
		delete(b.blocked, subjectID)
	}
}

// Listen "живучая" подписка на сигналы. Блокирует до отмены ctx.
func (b *Blocklist) Listen(ctx context.Context) {
	for {
		pubsub := b.rdb.Subscribe(ctx, b.channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("failed to subscribe", zap.String("chan", b.channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		if err := b.Init(ctx); err != nil {
			b.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				id, on, ok := parseSignal(msg.Payload)
				if !ok {
					b.logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				b.set(id, on)
				b.logger.Info("subject block state changed", zap.String("subject", id), zap.Bool("blocked", on))
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

// parseSignal разбирает "id:on" / "id:off". Subject может сам содержать ':'.
func parseSignal(payload string) (string, bool, bool) {
	i := strings.LastIndex(payload, ":")
	if i <= 0 {
		return "", false, false
	}
	switch payload[i+1:] {
	case "on", "true":
		return payload[:i], true, true
	case "off", "false":
		return payload[:i], false, true
	}
	return "", false, false
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
