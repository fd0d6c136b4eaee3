package order

import "errors"

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidLineItem         = errors.New("invalid line item")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrCreationFailed wraps any upstream or persistence failure during
	// Create. Nothing partial is committed, so the whole operation is safe
	// to retry.
	ErrCreationFailed = errors.New("order creation failed")

	// ErrPaymentReconciliation wraps persistence failures while applying a
	// payment confirmation. The event source is expected to redeliver.
	ErrPaymentReconciliation = errors.New("payment reconciliation failed")
)
