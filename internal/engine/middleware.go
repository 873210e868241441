package engine

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/xela07ax/honeyagent/internal/domain"
	"go.uber.org/zap"
)

const traceHeader = "X-Trace-ID"

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Пытаемся достать ID из заголовка (если пришел от агента/прокси)
		traceID := r.Header.Get(traceHeader)

		// 2. Если его нет (или он мусорный) — генерируем новый
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.New().String()
		}

		// 3. Добавляем в ответ, чтобы клиент тоже знал ID своего запроса
		w.Header().Set(traceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(domain.WithTraceID(r.Context(), traceID)))
	})
}

// RequestLogger пишет по строке на запрос. Тело и заголовки не логируются:
// там токены атакующих.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.With(zap.String("mod", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zap.String("trace_id", domain.TraceID(r.Context())),
			)
		})
	}
}
