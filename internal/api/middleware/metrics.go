// metrics.go — Prometheus HTTP метрики CipherDrive.
// Регистрирует метрики: cd_http_requests_total, cd_http_request_duration_seconds.
// Бизнес-метрики (cd_reconcile_*, cd_gc_*) регистрируются в сервисном слое.
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
			Name: "cd_http_requests_total",
			Help: "Общее количество HTTP-запросов к CipherDrive",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cd_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к CipherDrive в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь: токены и идентификаторы в сегментах
			// заменяются плейсхолдерами против роста кардинальности
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

// normalizePath заменяет изменяемые сегменты пути на плейсхолдеры.
// /api/v1/shares/public/<token>/download → /api/v1/shares/public/{token}/download
// /api/v1/shares/<uuid> → /api/v1/shares/{share_id}
func normalizePath(path string) string {
	const publicPrefix = "/api/v1/shares/public/"
	if strings.HasPrefix(path, publicPrefix) {
		if strings.HasSuffix(path, "/download") {
			return publicPrefix + "{token}/download"
		}
		return publicPrefix + "{token}"
	}

	const sharesPrefix = "/api/v1/shares/"
	if strings.HasPrefix(path, sharesPrefix) && path != "/api/v1/shares/stats" {
		return sharesPrefix + "{share_id}"
	}

	return path
}
