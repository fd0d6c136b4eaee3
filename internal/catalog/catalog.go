package catalog

import (
	"context"
	"errors"
)

// Product is a read-only snapshot from the catalog service. It is fetched
// per request and never cached, so prices stored on order items may diverge
// from the current catalog price afterwards.
type Product struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Client resolves authoritative existence and price data for a set of
// product ids. Implementations may use any transport; tests use an
// in-process stub.
type Client interface {
	ValidateProducts(ctx context.Context, ids []int64) ([]Product, error)
}

var (
	ErrUnavailable     = errors.New("catalog service unavailable")
	ErrProductNotFound = errors.New("product not found")
)
