package order

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPaid      OrderStatus = "PAID"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// legalTransitions is the status state machine. Same-status changes are
// handled as no-ops before this table is consulted; DELIVERED and
// CANCELLED are terminal.
var legalTransitions = map[OrderStatus][]OrderStatus{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is the aggregate root: the order row plus its items and, once the
// payment is confirmed, its receipt. It is always read and written as a
// unit.
type Order struct {
	ID               uuid.UUID   `json:"id"`
	Status           OrderStatus `json:"status"`
	TotalAmount      float64     `json:"totalAmount"`
	TotalItems       int         `json:"totalItems"`
	Paid             bool        `json:"paid"`
	PaidAt           *time.Time  `json:"paidAt"`
	ExternalChargeID *string     `json:"externalChargeId"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	Items            []OrderItem `json:"items"`
	Receipt          *Receipt    `json:"receipt,omitempty"`
}

// OrderItem carries the catalog price snapshot taken at creation time.
// Name is display enrichment resolved from the catalog; it is not
// authoritative and not part of the persisted snapshot.
type OrderItem struct {
	ID        uint      `json:"-"`
	OrderID   uuid.UUID `json:"-"`
	ProductID int64     `json:"productId"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	Name      string    `json:"name,omitempty"`
}

type Receipt struct {
	ID         uint      `json:"-"`
	OrderID    uuid.UUID `json:"-"`
	ReceiptURL string    `json:"receiptUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LineItem is a requested (product, quantity) pair before validation and
// pricing.
type LineItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type PageMeta struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	LastPage int   `json:"lastPage"`
}

type Page struct {
	Data []*Order `json:"data"`
	Meta PageMeta `json:"meta"`
}
