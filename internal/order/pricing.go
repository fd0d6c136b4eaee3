package order

import (
	"fmt"

	"orders-be/internal/catalog"
)

// Quote is the result of pricing a set of requested line items against the
// catalog snapshot resolved for them.
type Quote struct {
	TotalAmount float64
	TotalItems  int
	Items       []OrderItem
}

// ValidateLineItems rejects malformed input before any remote call is made.
func ValidateLineItems(items []LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrInvalidLineItem)
	}
	for i, item := range items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive (item %d, product %d)",
				ErrInvalidLineItem, i, item.ProductID)
		}
	}
	return nil
}

// PriceOrder computes totals from the catalog prices, never from anything
// the caller supplied. Pure, no I/O. Duplicated product ids are priced per
// line, so they never double-count against the catalog set.
func PriceOrder(items []LineItem, products []catalog.Product) (*Quote, error) {
	if err := ValidateLineItems(items); err != nil {
		return nil, err
	}

	byID := make(map[int64]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	quote := &Quote{
		Items: make([]OrderItem, 0, len(items)),
	}

	for _, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", catalog.ErrProductNotFound, item.ProductID)
		}

		quote.TotalAmount += p.Price * float64(item.Quantity)
		quote.TotalItems += item.Quantity
		quote.Items = append(quote.Items, OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     p.Price,
			Name:      p.Name,
		})
	}

	return quote, nil
}

// productIDs collects the ids of the requested items. Duplicates are left
// in; the catalog client tolerates them.
func productIDs(items []LineItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
