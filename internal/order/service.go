package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orders-be/internal/catalog"
	"orders-be/internal/logger"
	"orders-be/internal/payment"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// Service sequences catalog validation, pricing, persistence and payment
// session requests to implement the order lifecycle.
type Service interface {
	Create(ctx context.Context, items []LineItem) (*Order, error)
	List(ctx context.Context, status *OrderStatus, page, limit int) (*Page, error)
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error)
	RequestPaymentSession(ctx context.Context, o *Order) (*payment.Session, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, chargeID, receiptURL string) (*Order, error)
}

type service struct {
	repo     Repository
	catalog  catalog.Client
	payments payment.Gateway
	currency string
}

func NewService(repo Repository, catalogClient catalog.Client, payments payment.Gateway, currency string) Service {
	return &service{
		repo:     repo,
		catalog:  catalogClient,
		payments: payments,
		currency: currency,
	}
}

func (s *service) Create(ctx context.Context, items []LineItem) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Create"),
		zap.Int("item_count", len(items)),
	)

	// Input errors are rejected before any remote call.
	if err := ValidateLineItems(items); err != nil {
		log.Warn("rejected line items", zap.Error(err))
		return nil, err
	}

	// 1. Confirm the products exist and fetch authoritative prices.
	products, err := s.catalog.ValidateProducts(ctx, productIDs(items))
	if err != nil {
		log.Error("catalog validation failed", zap.Error(err))
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	// 2. Compute totals from the catalog snapshot.
	quote, err := PriceOrder(items, products)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o := &Order{
		ID:          uuid.New(),
		Status:      StatusPending,
		TotalAmount: quote.TotalAmount,
		TotalItems:  quote.TotalItems,
		Items:       quote.Items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// 3. Single all-or-nothing write: no order row can exist without its
	// items.
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		log.Error("failed to persist order", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	log.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.Float64("total_amount", o.TotalAmount),
		zap.Int("total_items", o.TotalItems),
	)

	return o, nil
}

func (s *service) List(ctx context.Context, status *OrderStatus, page, limit int) (*Page, error) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}

	total, err := s.repo.CountOrders(ctx, status)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * limit
	orders, err := s.repo.FetchOrders(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}

	if orders == nil {
		orders = []*Order{}
	}

	return &Page{
		Data: orders,
		Meta: PageMeta{
			Total:    total,
			Page:     page,
			LastPage: int((total + int64(limit) - 1) / int64(limit)),
		},
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	s.enrichNames(ctx, o)

	return o, nil
}

// enrichNames resolves current catalog names for display. Best effort: the
// stored snapshot is sufficient on its own, so a catalog outage must never
// hide an existing order.
func (s *service) enrichNames(ctx context.Context, o *Order) {
	if len(o.Items) == 0 {
		return
	}

	ids := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := s.catalog.ValidateProducts(ctx, ids)
	if err != nil {
		logger.FromCtx(ctx).Warn("catalog enrichment skipped",
			zap.String("order_id", o.ID.String()),
			zap.Error(err),
		)
		return
	}

	names := make(map[int64]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	for i := range o.Items {
		o.Items[i].Name = names[o.Items[i].ProductID]
	}
}

func (s *service) ChangeStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, status)
	}

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if o.Status == status {
		return o, nil
	}

	if !o.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, status)
	}

	// Compare-and-set against the status just read: a payment confirmation
	// landing between the read and the write turns this into a conflict
	// instead of an overwrite.
	now := time.Now()
	if err := s.repo.UpdateOrderStatus(ctx, id, o.Status, status, now); err != nil {
		return nil, err
	}

	o.Status = status
	o.UpdatedAt = now

	logger.FromCtx(ctx).Info("order status changed",
		zap.String("order_id", id.String()),
		zap.String("status", string(status)),
	)

	return o, nil
}

func (s *service) RequestPaymentSession(ctx context.Context, o *Order) (*payment.Session, error) {
	items := make([]payment.SessionItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, payment.SessionItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}

	session, err := s.payments.CreateSession(ctx, o.ID.String(), s.currency, items)
	if err != nil {
		logger.FromCtx(ctx).Error("payment session request failed",
			zap.String("order_id", o.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return session, nil
}

func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, chargeID, receiptURL string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ConfirmPayment"),
		zap.String("order_id", orderID.String()),
		zap.String("charge_id", chargeID),
	)

	o, err := s.repo.ConfirmPayment(ctx, orderID, chargeID, receiptURL, time.Now())
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn("payment confirmation for unknown order")
			return nil, err
		}
		log.Error("failed to apply payment confirmation", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentReconciliation, err)
	}

	log.Info("order has been paid")

	return o, nil
}
