package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/user"
)

type fakeSender struct {
	sent  []*gomail.Message
	err   error
	block chan struct{}
}

func (s *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m...)
	return nil
}

func testReceipt() (user.User, order.Order) {
	u := user.User{ID: 7, Username: "ana", Email: "ana@example.com"}
	o := order.Order{
		ID:                42,
		UserID:            7,
		PickupDate:        time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		PickupTime:        order.NewTimeOfDay(9, 30),
		Location:          "1 Main St",
		Weight:            decimal.RequireFromString("20"),
		Blankets:          1,
		Total:             decimal.RequireFromString("67.04"),
		FirstTimeDiscount: true,
	}
	return u, o
}

func TestMailer_SendReceipt(t *testing.T) {
	s := &fakeSender{}
	m := &Mailer{from: "orders@washgo.example", sender: s}
	u, o := testReceipt()

	require.NoError(t, m.SendReceipt(context.Background(), u, o))
	require.Len(t, s.sent, 1)

	msg := s.sent[0]
	assert.Equal(t, []string{"orders@washgo.example"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"ana@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Wash & Go receipt for order #42"}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	body := buf.String()
	assert.Contains(t, body, "Order:    #42")
	assert.Contains(t, body, "Pickup:   2025-06-03 at 09:30")
	assert.Contains(t, body, "Extras:   1 blanket(s), 0 pillow(s)")
	assert.Contains(t, body, "Discount: 20% first order")
	assert.Contains(t, body, "Total:    $67.04")
}

func TestMailer_Errors(t *testing.T) {
	u, o := testReceipt()

	t.Run("no email", func(t *testing.T) {
		m := &Mailer{sender: &fakeSender{}}
		noEmail := u
		noEmail.Email = ""
		require.Error(t, m.SendReceipt(context.Background(), noEmail, o))
	})
	t.Run("relay failure", func(t *testing.T) {
		m := &Mailer{sender: &fakeSender{err: errors.New("535 auth failed")}}
		require.Error(t, m.SendReceipt(context.Background(), u, o))
	})
	t.Run("cancelled", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		m := &Mailer{sender: &fakeSender{block: block}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, m.SendReceipt(ctx, u, o), context.Canceled)
	})
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{Host: "smtp.example"}.Enabled())
	assert.True(t, Config{Host: "smtp.example", From: "orders@washgo.example"}.Enabled())
}
