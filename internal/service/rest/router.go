package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/metrics"
)

// NewRouter собирает HTTP API заказов.
func NewRouter(handler *Handler, m *metrics.OrderMetrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(handler.logger, m))
	r.Use(middleware.Recoverer)

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/recent", handler.GetRecentOrders)
		r.Get("/{id}", handler.GetOrder)
		r.Get("/{id}/status", handler.GetOrderStatus)
		r.Put("/{id}/status", handler.UpdateOrderStatus)
	})
	r.Get("/api/kafkamonitor/topics", handler.GetTopics)
	r.Get("/api/health", handler.Health)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// requestLogger пишет один лог на запрос и учитывает его в метриках.
// В метки попадает шаблон маршрута, чтобы не плодить серии по id.
func requestLogger(logger *log.Entry, m *metrics.OrderMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(started)
			m.RecordHTTPRequest(r.Method, route, status, elapsed)

			entry := logger.WithFields(log.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"remote":      r.RemoteAddr,
				"duration_ms": elapsed.Milliseconds(),
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("http запрос завершился ошибкой")
				return
			}
			entry.Debug("http запрос обработан")
		})
	}
}
