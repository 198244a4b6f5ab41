// logging.go — slog-логирование HTTP-запросов Photo Store.
// Пишет одну запись на запрос после обработки; помимо сырого пути
// добавляет нормализованный route (storage_key → {key}), чтобы по логам
// можно было группировать запросы так же, как по лейблам метрик.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingResponseWriter перехватывает статус-код и объём записанного тела.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lw.ResponseWriter.Write(b)
	lw.bytes += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController добраться до оригинального ResponseWriter.
func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// RequestLogger возвращает middleware, логирующий каждый запрос к Photo Store:
// метод, путь, route, статус, длительность, объём ответа, remote_addr.
// Успешные запросы пишутся на INFO, клиентские ошибки (4xx) на WARN,
// серверные (5xx) на ERROR.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newLoggingResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch {
			case wrapped.status >= 500:
				level = slog.LevelError
			case wrapped.status >= 400:
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "Обработан HTTP запрос",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", normalizePath(r.URL.Path)),
				slog.Int("status", wrapped.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("response_bytes", wrapped.bytes),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
