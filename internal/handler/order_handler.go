package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"orders-be/internal/catalog"
	"orders-be/internal/logger"
	"orders-be/internal/order"
	"orders-be/internal/payment"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderHandler exposes the order lifecycle over HTTP.
type OrderHandler struct {
	svc order.Service
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/status", h.ChangeStatus)
	return r
}

type createOrderRequest struct {
	Items []order.LineItem `json:"items"`
}

type createOrderResponse struct {
	Order          *order.Order     `json:"order"`
	PaymentSession *payment.Session `json:"paymentSession"`
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	o, err := h.svc.Create(r.Context(), req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.svc.RequestPaymentSession(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:          o,
		PaymentSession: session,
	})
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *order.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := order.OrderStatus(raw)
		if !s.Valid() {
			writeJSONError(w, "invalid status filter", http.StatusBadRequest)
			return
		}
		status = &s
	}

	page := parseIntParam(r, "page", order.DefaultPage)
	limit := parseIntParam(r, "limit", order.DefaultLimit)

	result, err := h.svc.List(r.Context(), status, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, "invalid order id", http.StatusBadRequest)
		return
	}

	o, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

type changeStatusRequest struct {
	Status order.OrderStatus `json:"status"`
}

func (h *OrderHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	o, err := h.svc.ChangeStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// writeError maps the error taxonomy onto HTTP statuses. Input and
// not-found errors are precise; dependency faults are opaque on the wire
// with full detail only in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrInvalidLineItem):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, order.ErrInvalidStatusTransition):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, order.ErrCreationFailed),
		errors.Is(err, order.ErrPaymentReconciliation),
		errors.Is(err, catalog.ErrUnavailable),
		errors.Is(err, payment.ErrSessionFailed):
		logger.FromCtx(r.Context()).Error("upstream failure", zap.Error(err))
		writeJSONError(w, "upstream failure, check logs", http.StatusBadGateway)
	default:
		logger.FromCtx(r.Context()).Error("unexpected error", zap.Error(err))
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
