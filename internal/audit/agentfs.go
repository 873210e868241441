package audit

/*
Файл agentfs.go — асинхронный журнал аудита шлюза (routing decisions, выданные
канарейки, захваченные отпечатки).

- Non-blocking Logging: Log никогда не блокирует горячий путь запроса; при переполнении
  буфера событие сбрасывается с записью в zap (Load Shedding).
- Batching: события копятся и пишутся пачкой по таймеру или при достижении лимита.
- Drain Pattern: Stop закрывает канал и ждет, пока воркер вычитает остаток и сделает Final Flush.

Это НЕ хранилище отпечатков. Источник истины для отпечатков — локальный журнал
fingerprint.FileStore; здесь только копия для аналитики.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"go.uber.org/zap"
)

const batchSize = 100

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

type AgentFS struct {
	ch            chan Event
	repo          StorageInterface
	logger        *zap.Logger
	metrics       *metrics.Metrics
	flushInterval time.Duration
	wg            sync.WaitGroup
	isClosed      int32 // 0 - открыт, 1 - закрыт
}

func NewAgentFS(repo StorageInterface, bufferSize int, flushInterval time.Duration, m *metrics.Metrics, logger *zap.Logger) *AgentFS {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &AgentFS{
		ch:            make(chan Event, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "agentfs")),
		metrics:       m,
		flushInterval: flushInterval,
	}
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (fs *AgentFS) Stop() {
	if !atomic.CompareAndSwapInt32(&fs.isClosed, 0, 1) {
		return
	}
	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	fs.logger.Info("stopping auditor: closing channel and flushing buffer...")
	close(fs.ch)
	fs.wg.Wait()
	fs.logger.Info("auditor stopped gracefully")
}

func (fs *AgentFS) Log(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if atomic.LoadInt32(&fs.isClosed) == 1 {
		fs.logger.Warn("audit event dropped: auditor is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: аудит не должен тормозить ответ атакующему
	select {
	case fs.ch <- event:
		fs.metrics.AuditBufferFill.Set(float64(len(fs.ch)))
	default:
		fs.logger.Error("audit_buffer_overflow",
			zap.String("kind", string(event.Kind)),
			zap.String("agent_id", event.AgentID),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]Event, 0, batchSize)
	ticker := time.NewTicker(fs.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст может быть уже закрыт
		if err := fs.repo.WriteBatch(context.Background(), batch); err != nil {
			fs.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		fs.metrics.AuditBufferFill.Set(float64(len(fs.ch)))
	}

	for {
		select {
		case event, ok := <-fs.ch:
			if !ok {
				// Канал закрыт в Stop(): остаток уже вычитан, делаем финальный сброс
				flush()
				fs.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// LogStorage — sink "none": события уходят только в zap на уровне debug.
type LogStorage struct {
	logger *zap.Logger
}

func NewLogStorage(logger *zap.Logger) *LogStorage {
	return &LogStorage{logger: logger.Named("audit")}
}

func (s *LogStorage) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Debug("audit event",
			zap.String("kind", string(e.Kind)),
			zap.String("agent_id", e.AgentID),
			zap.String("label", e.Label),
			zap.String("trace_id", e.TraceID),
		)
	}
	return nil
}
