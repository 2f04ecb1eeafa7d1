package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestDecode_AcceptsNumericAndStringPrices(t *testing.T) {
	var req CreateOrderRequest
	require.NoError(t, Decode([]byte(`{"items":[{"name":"Tea","price":1.5,"quantity":1},{"name":"Bun","price":"2.25","quantity":2}]}`), &req))

	items := ToItems(req.Items)
	require.Len(t, items, 2)
	assert.True(t, items[0].Price.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, items[1].Price.Equal(decimal.RequireFromString("2.25")))
	assert.Equal(t, 2, items[1].Quantity)
}

func TestDecode_MalformedIsValidationError(t *testing.T) {
	var req CreateOrderRequest
	err := Decode([]byte(`{"items":[{"price":"abc"}]}`), &req)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Nil(t, ToItems(nil))
}

func TestFromOrder_FormatsMoney(t *testing.T) {
	order := domain.Order{
		ID:           "007",
		CustomerName: "Guest",
		Items:        []domain.OrderItem{{Name: "Tea", Price: decimal.RequireFromString("1.5"), Quantity: 3}},
		Status:       domain.Paid(domain.PaymentMethodUPI),
		CreatedAt:    time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC),
	}

	dto := FromOrder(order)
	assert.Equal(t, "4.50", dto.Total)
	assert.Equal(t, "1.50", dto.Items[0].Price)
	assert.Equal(t, domain.StatusKindPaid, dto.Status)
	assert.Equal(t, domain.PaymentMethodUPI, dto.PaymentMethod)
	assert.True(t, dto.IsPaid)
	assert.False(t, dto.IsCancelled)
	assert.Empty(t, FromOrder(domain.Order{Status: domain.Active()}).PaymentMethod)
}
