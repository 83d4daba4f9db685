package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
	"github.com/vladislavdragonenkov/orders-kafka/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/orders"
)

const maxBodyBytes = 1 << 20

// OrderService — операции сервиса заказов, доступные через HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (orders.OrderView, error)
	GetOrder(ctx context.Context, id uuid.UUID) (orders.OrderView, error)
	GetOrderStatus(ctx context.Context, id uuid.UUID) (orders.StatusView, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, notes string) (orders.OrderView, error)
	GetRecentOrders(ctx context.Context, count int) ([]orders.OrderView, error)
}

// UpdateStatusRequest — тело PUT /api/orders/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// HealthResponse — ответ GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler обслуживает HTTP API заказов.
type Handler struct {
	service OrderService
	logger  *log.Entry
	now     func() time.Time
}

// NewHandler создаёт обработчик поверх сервиса заказов.
func NewHandler(service OrderService, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateOrder обрабатывает POST /api/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	h.logger.WithField("customer", req.CustomerName).Info("создаём заказ")
	view, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "не удалось создать заказ")
		return
	}

	w.Header().Set("Location", "/api/orders/"+view.ID.String())
	writeJSON(w, http.StatusCreated, view)
}

// GetOrder обрабатывает GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "не удалось получить заказ")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetOrderStatus обрабатывает GET /api/orders/{id}/status.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetOrderStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "не удалось получить статус заказа")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateOrderStatus обрабатывает PUT /api/orders/{id}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", "Invalid order status: "+req.Status)
		return
	}

	h.logger.WithFields(log.Fields{"order_id": id, "status": status.String()}).Info("обновляем статус заказа")
	view, err := h.service.UpdateOrderStatus(r.Context(), id, status, req.Notes)
	if err != nil {
		h.writeServiceError(w, err, "не удалось обновить статус заказа")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetRecentOrders обрабатывает GET /api/orders/recent?count=N.
func (h *Handler) GetRecentOrders(w http.ResponseWriter, r *http.Request) {
	count := orders.DefaultRecentCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_count", "count must be an integer")
			return
		}
		count = parsed
	}

	views, err := h.service.GetRecentOrders(r.Context(), count)
	if err != nil {
		h.writeServiceError(w, err, "не удалось получить последние заказы")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetTopics обрабатывает GET /api/kafkamonitor/topics.
func (h *Handler) GetTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, kafka.DeclaredTopics())
}

// Health обрабатывает GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "Healthy", Timestamp: h.now().UTC()})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.WithError(err).Error(msg)
		writeError(w, http.StatusInternalServerError, "internal_error", "An error occurred while processing the request")
	}
}

func orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "order id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
