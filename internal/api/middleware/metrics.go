// metrics.go — Prometheus HTTP метрики Photo Store.
// Регистрирует метрики: ps_http_requests_total, ps_http_request_duration_seconds.
// Бизнес-метрики (ps_photos_total, ps_operations_total и др.)
// обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ps_http_requests_total",
			Help: "Общее количество HTTP-запросов к Photo Store",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ps_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Photo Store в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// PhotosTotal — текущее количество фотографий в хранилище (gauge).
	PhotosTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ps_photos_total",
			Help: "Текущее количество фотографий в хранилище",
		},
	)

	// StorageBytes — суммарный объём payload фотографий (gauge).
	StorageBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ps_storage_bytes",
			Help: "Суммарный объём фотографий в байтах",
		},
	)

	// OperationsTotal — общее количество операций с фотографиями.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ps_operations_total",
			Help: "Общее количество операций с фотографиями",
		},
		[]string{"operation", "result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем storage_key на {key} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

const photosPrefix = "/api/v1/photos/"

// normalizePath заменяет storage_key в пути на {key} для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/photos/20260829_beach_a1b2.jpg/image → /api/v1/photos/{key}/image
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics", "/api/v1/photos":
		return path
	}

	if strings.HasPrefix(path, photosPrefix) {
		rest := path[len(photosPrefix):]
		if strings.HasSuffix(rest, "/image") {
			return photosPrefix + "{key}/image"
		}
		if !strings.Contains(rest, "/") {
			return photosPrefix + "{key}"
		}
	}

	return path
}
