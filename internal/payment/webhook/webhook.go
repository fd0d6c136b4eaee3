package webhook

import (
	"encoding/json"
	"errors"
	"net/http"

	"orders-be/internal/logger"
	"orders-be/internal/order"
	"orders-be/internal/payment"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Payload is the JSON the payment service sends when a charge succeeds.
type Payload struct {
	OrderID    string `json:"orderId"`
	ChargeID   string `json:"chargeId"`
	ReceiptURL string `json:"receiptUrl"`
}

// Handler reconciles payment confirmations delivered over HTTP. Delivery is
// at-least-once: a non-2xx answer makes the payment service redeliver, which
// is safe because ConfirmPayment is idempotent.
type Handler struct {
	orders  order.Service
	gateway payment.Gateway
}

func NewHandler(orders order.Service, gateway payment.Gateway) *Handler {
	return &Handler{
		orders:  orders,
		gateway: gateway,
	}
}

func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context())

	if err := h.gateway.VerifyCallback(r); err != nil {
		log.Warn("rejected webhook with invalid token", zap.Error(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	if payload.ChargeID == "" {
		http.Error(w, "missing charge id", http.StatusBadRequest)
		return
	}

	_, err = h.orders.ConfirmPayment(r.Context(), orderID, payload.ChargeID, payload.ReceiptURL)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
		return
	case err != nil:
		// Opaque on the wire, full detail in the log; 502 tells the
		// payment service to retry.
		http.Error(w, "failed to reconcile payment, check logs", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
