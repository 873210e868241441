package pattern

import (
	"context"
	"time"

	"github.com/xela07ax/honeyagent/internal/metrics"
	"github.com/xela07ax/honeyagent/internal/vector"
	"go.uber.org/zap"
)

// DefaultTopK сколько похожих записей вернуть, если вызывающий не указал.
const DefaultTopK = 5

type Result struct {
	RecordID string            `json:"record_id"`
	Score    float64           `json:"similarity_score"`
	Metadata map[string]string `json:"metadata"`
}

// Querier ищет ранее сохраненные похожие отпечатки. Никогда не возвращает ошибку:
// недоступное хранилище дает пустой список, ханипот продолжает отвечать.
type Querier struct {
	store    vector.Store
	embedder vector.Embedder
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewQuerier(store vector.Store, embedder vector.Embedder, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Querier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Querier{
		store:    store,
		embedder: embedder,
		timeout:  timeout,
		metrics:  m,
		logger:   logger.With(zap.String("mod", "pattern")),
	}
}

// ClampTopK приводит topK к диапазону [1, store.MaxTopK()].
func (q *Querier) ClampTopK(topK int) int {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if limit := q.store.MaxTopK(); limit > 0 && topK > limit {
		topK = limit
	}
	return topK
}

// QuerySimilar возвращает результаты по убыванию близости.
func (q *Querier) QuerySimilar(ctx context.Context, vec []float32, topK int) []Result {
	topK = q.ClampTopK(topK)

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	matches, err := q.store.Query(ctx, vec, topK)
	if err != nil {
		q.metrics.VectorFailuresTotal.WithLabelValues("vector_query").Inc()
		q.logger.Warn("similar pattern query failed", zap.String("stage", "vector_query"), zap.Error(err))
		return []Result{}
	}

	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		out = append(out, Result{RecordID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return out
}

// QueryText — то же по тексту: сначала эмбеддинг, затем поиск.
func (q *Querier) QueryText(ctx context.Context, text string, topK int) []Result {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	vec, err := q.embedder.Embed(ctx, text)
	if err != nil {
		q.metrics.VectorFailuresTotal.WithLabelValues("embed").Inc()
		q.logger.Warn("similar pattern query failed", zap.String("stage", "embed"), zap.Error(err))
		return []Result{}
	}
	return q.QuerySimilar(ctx, vec, topK)
}
