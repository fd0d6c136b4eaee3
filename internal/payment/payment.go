package payment

import (
	"context"
	"errors"
	"net/http"
)

// SessionItem is the {name, quantity, price} line descriptor the payment
// service needs to render a checkout page.
type SessionItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Session is the opaque descriptor returned by the payment service. It is
// passed through to the caller unmodified.
type Session struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Gateway requests payment sessions from the remote payment service and
// verifies the callbacks it sends back. It never retries on its own;
// retry policy belongs to the caller.
type Gateway interface {
	CreateSession(ctx context.Context, orderID, currency string, items []SessionItem) (*Session, error)
	VerifyCallback(r *http.Request) error
}

var (
	ErrSessionFailed   = errors.New("payment session request failed")
	ErrInvalidCallback = errors.New("invalid payment callback token")
)
