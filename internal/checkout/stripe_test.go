package checkout

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/washgo/delivery/internal/domain/payment"
)

func newFakeStripe(t *testing.T, paymentStatus string) (*Stripe, *http.Request) {
	t.Helper()
	var captured http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
			assert.NoError(t, r.ParseForm())
			captured = *r
			fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example/cs_test_1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_test_1":
			fmt.Fprintf(w, `{"id":"cs_test_1","object":"checkout.session","payment_status":%q,"amount_total":6704,"currency":"usd"}`, paymentStatus)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"No such checkout session"}}`)
		}
	}))
	t.Cleanup(srv.Close)
	return NewStripe(Config{SecretKey: "sk_test_123", WebhookSecret: "whsec_test", BaseURL: srv.URL}), &captured
}

func TestStripe_CreateSession(t *testing.T) {
	s, captured := newFakeStripe(t, "unpaid")

	sess, err := s.CreateSession(context.Background(), payment.SessionParams{
		Amount:          6704,
		Currency:        "usd",
		Description:     "Laundry pickup 2025-06-03",
		CustomerEmail:   "ana@example.com",
		ClientReference: "1",
		IdempotencyKey:  "idem-1",
		SuccessURL:      "https://washgo.example/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:       "https://washgo.example/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.example/cs_test_1", sess.URL)

	form := captured.PostForm
	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "6704", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "ana@example.com", form.Get("customer_email"))
	assert.Equal(t, "idem-1", captured.Header.Get("Idempotency-Key"))
}

func TestStripe_SessionStatus(t *testing.T) {
	t.Run("paid", func(t *testing.T) {
		s, _ := newFakeStripe(t, "paid")
		st, err := s.SessionStatus(context.Background(), "cs_test_1")
		require.NoError(t, err)
		assert.True(t, st.Paid)
		assert.Equal(t, int64(6704), st.AmountTotal)
		assert.Equal(t, "usd", st.Currency)
	})
	t.Run("unpaid", func(t *testing.T) {
		s, _ := newFakeStripe(t, "unpaid")
		st, err := s.SessionStatus(context.Background(), "cs_test_1")
		require.NoError(t, err)
		assert.False(t, st.Paid)
	})
	t.Run("unknown session", func(t *testing.T) {
		s, _ := newFakeStripe(t, "paid")
		_, err := s.SessionStatus(context.Background(), "cs_missing")
		require.Error(t, err)
	})
}

func TestStripe_ParseEvent(t *testing.T) {
	s := NewStripe(Config{SecretKey: "sk_test_123", WebhookSecret: "whsec_test"})
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_9", "object": "checkout.session", "payment_status": "paid"}}
	}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	ev, err := s.ParseEvent(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, payment.EventCheckoutCompleted, ev.Type)
	assert.Equal(t, "cs_test_9", ev.SessionID)

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})
	_, err = s.ParseEvent(payload, forged.Header)
	require.ErrorIs(t, err, ErrInvalidSignature)
}
