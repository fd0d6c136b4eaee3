package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusPaid.Valid())
	assert.True(t, StatusDelivered.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, OrderStatus("SHIPPED").Valid())
	assert.False(t, OrderStatus("").Valid())
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusDelivered, false},
		{StatusPaid, StatusDelivered, true},
		{StatusPaid, StatusCancelled, false},
		{StatusPaid, StatusPending, false},
		{StatusDelivered, StatusPending, false},
		{StatusDelivered, StatusPaid, false},
		{StatusCancelled, StatusPaid, false},
		{StatusCancelled, StatusDelivered, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}
