package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Count)
	assert.True(t, s.Revenue.IsZero())
	assert.Empty(t, s.ByStatus)
	assert.Empty(t, s.Daily)
}

func TestTopCustomers(t *testing.T) {
	var orders []Order
	for uid := int64(1); uid <= 12; uid++ {
		orders = append(orders, newTestOrder(uid, uid, StatusPaid, "40.00"))
	}
	orders = append(orders, newTestOrder(100, 5, StatusPaid, "10.00"))

	top := TopCustomers(orders, 10)
	require.Len(t, top, 10)
	assert.Equal(t, int64(5), top[0].UserID)
	assert.True(t, decimal.RequireFromString("50").Equal(top[0].Revenue))
	// equal revenue falls back to ascending user id
	assert.Equal(t, int64(1), top[1].UserID)
	assert.Equal(t, int64(2), top[2].UserID)
}

func TestFirstTimeDiscount(t *testing.T) {
	a := newTestOrder(1, 1, StatusPaid, "67.04")
	a.Weight = decimal.NewFromInt(20)
	a.FirstTimeDiscount = true
	b := newTestOrder(2, 2, StatusPaid, "83.80")
	b.Weight = decimal.NewFromInt(20)

	count, total := FirstTimeDiscount([]Order{a, b})
	assert.Equal(t, 1, count)
	assert.True(t, decimal.RequireFromString("16.76").Equal(total), total.String())
}
