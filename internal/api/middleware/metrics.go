// metrics.go — Prometheus HTTP метрики для Directory Module.
// Регистрирует метрики: dm_http_requests_total, dm_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики Directory Module
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Directory Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Directory Module в секундах",
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

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
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

// normalizePath заменяет UUID-сегменты пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/organizations/a1b2c3d4-... → /api/v1/organizations/{id}
// /api/v1/organizations/a1b2c3d4-.../plan → /api/v1/organizations/{id}/plan
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/search",
		"/api/v1/audit", "/api/v1/audit/verify", "/api/v1/audit/export",
		"/api/v1/organizations",
		"/api/v1/organizations/bulk/plan", "/api/v1/organizations/bulk/delete",
		"/api/v1/admin/reindex",
		"/api/v1/admin/trials/expire", "/api/v1/admin/audit/retention":
		return path
	}

	// Динамические пути с UUID
	const orgsPrefix = "/api/v1/organizations/"
	if len(path) > len(orgsPrefix) && path[:len(orgsPrefix)] == orgsPrefix {
		// Проверяем суффиксы после UUID (36 символов)
		suffix := ""
		if len(path) > len(orgsPrefix)+36 {
			suffix = path[len(orgsPrefix)+36:]
		}
		switch suffix {
		case "/plan":
			return "/api/v1/organizations/{id}/plan"
		case "/priority":
			return "/api/v1/organizations/{id}/priority"
		case "/restriction":
			return "/api/v1/organizations/{id}/restriction"
		case "/approval":
			return "/api/v1/organizations/{id}/approval"
		case "/restore":
			return "/api/v1/organizations/{id}/restore"
		case "/trial":
			return "/api/v1/organizations/{id}/trial"
		case "/entitlements":
			return "/api/v1/organizations/{id}/entitlements"
		case "/reindex":
			return "/api/v1/organizations/{id}/reindex"
		default:
			return "/api/v1/organizations/{id}"
		}
	}

	return path
}
