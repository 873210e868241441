package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/honeyagent/internal/audit"
	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"github.com/xela07ax/honeyagent/internal/risk"
	"github.com/xela07ax/honeyagent/internal/vector"
	"go.uber.org/zap"
)

// MaxMessageRunes столько символов сообщения попадает в отпечаток. Индикаторы
// считаются по полному тексту.
const MaxMessageRunes = 16 << 10

// ErrStoreAppend единственная ошибка, которую Record отдает наружу.
var ErrStoreAppend = errors.New("fingerprint store append failed")

type RecorderConfig struct {
	WriteTimeout  time.Duration // durable шаг
	VectorTimeout time.Duration // embed + put вместе
}

// Recorder создает отпечатки: сначала durable запись, затем best-effort вектор.
type Recorder struct {
	store    Store
	analyzer *risk.Analyzer
	embedder vector.Embedder
	vectors  vector.Store
	auditor  audit.Auditor
	cfg      RecorderConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewRecorder(store Store, analyzer *risk.Analyzer, embedder vector.Embedder, vectors vector.Store,
	auditor audit.Auditor, cfg RecorderConfig, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.VectorTimeout <= 0 {
		cfg.VectorTimeout = 5 * time.Second
	}
	return &Recorder{
		store:    store,
		analyzer: analyzer,
		embedder: embedder,
		vectors:  vectors,
		auditor:  auditor,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With(zap.String("mod", "recorder")),
		now:      time.Now,
	}
}

// Record размечает обмен и сохраняет отпечаток. Возвращает уникальный record_id.
func (r *Recorder) Record(ctx context.Context, ex domain.Exchange) (string, error) {
	indicators := risk.Merge(r.analyzer.Tag(ex.Message), ex.Indicators)

	fp := domain.Fingerprint{
		ID:               uuid.New().String(),
		Timestamp:        r.now().UTC(),
		AgentID:          ex.AgentID,
		Message:          ex.Message,
		ThreatIndicators: indicators,
		ThreatLevel:      risk.Level(indicators),
		SessionID:        ex.SessionID,
	}
	if err := r.RecordFingerprint(ctx, &fp); err != nil {
		return "", err
	}
	return fp.ID, nil
}

// RecordFingerprint сохраняет готовый отпечаток. При успехе векторного шага заполняет fp.Vector.
func (r *Recorder) RecordFingerprint(ctx context.Context, fp *domain.Fingerprint) error {
	if fp.ID == "" {
		fp.ID = uuid.New().String()
	}
	if fp.Timestamp.IsZero() {
		fp.Timestamp = r.now().UTC()
	}
	fp.Message = truncate(fp.Message, MaxMessageRunes)

	// 1. Durable запись. Отключение клиента ее не отменяет
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	err := r.store.Append(dctx, *fp)
	cancel()
	if err != nil {
		r.logger.Error("fingerprint durable write failed",
			zap.String("record_id", fp.ID),
			zap.String("agent", fp.AgentID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrStoreAppend, err)
	}

	r.metrics.FingerprintsTotal.WithLabelValues(fp.ThreatLevel.String()).Inc()
	r.logger.Info("fingerprint captured",
		zap.String("record_id", fp.ID),
		zap.String("agent", fp.AgentID),
		zap.String("threat_level", fp.ThreatLevel.String()),
		zap.Strings("indicators", fp.ThreatIndicators),
		zap.String("session_id", fp.SessionID),
	)
	r.auditor.Log(audit.Event{
		TraceID: domain.TraceID(ctx),
		Kind:    audit.KindFingerprint,
		AgentID: fp.AgentID,
		Label:   fp.ThreatLevel.String(),
		Payload: map[string]any{
			"record_id":         fp.ID,
			"threat_indicators": fp.ThreatIndicators,
			"session_id":        fp.SessionID,
		},
	})

	// 2. Best-effort вектор. Может быть отменен вместе с запросом
	r.forwardVector(ctx, fp)
	return nil
}

func (r *Recorder) forwardVector(ctx context.Context, fp *domain.Fingerprint) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.VectorTimeout)
	defer cancel()

	vec, err := r.embedder.Embed(ctx, fp.Message)
	if err != nil {
		r.vectorFailed("embed", fp.ID, err)
		return
	}

	_, err = r.vectors.Put(ctx, vec, map[string]string{
		"record_id":         fp.ID,
		"source_agent":      fp.AgentID,
		"threat_level":      fp.ThreatLevel.String(),
		"threat_indicators": strings.Join(fp.ThreatIndicators, ","),
		"session_id":        fp.SessionID,
		"timestamp":         fp.Timestamp.Format(time.RFC3339),
		"message":           truncate(fp.Message, 500),
	})
	if err != nil {
		r.vectorFailed("vector_put", fp.ID, err)
		return
	}
	fp.Vector = vec
}

func (r *Recorder) vectorFailed(stage, recordID string, err error) {
	r.metrics.VectorFailuresTotal.WithLabelValues(stage).Inc()
	r.logger.Warn("fingerprint vector step failed",
		zap.String("stage", stage),
		zap.String("record_id", recordID),
		zap.Error(err),
	)
}

// Recent — последние n отпечатков для API.
func (r *Recorder) Recent(n int) ([]domain.Fingerprint, error) {
	return r.store.Recent(n)
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
