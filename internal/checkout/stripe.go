// Package checkout adapts Stripe Checkout to the payment provider interface.
package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/washgo/delivery/internal/domain/payment"
)

// ErrInvalidSignature is returned for webhook payloads that fail signature
// verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

var _ payment.Provider = (*Stripe)(nil)

// Config configures the Stripe client.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
}

// Stripe creates and inspects Stripe Checkout sessions.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe creates a Stripe client.
func NewStripe(cfg Config) *Stripe {
	var backends *stripe.Backends
	if cfg.BaseURL != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BaseURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)
	return &Stripe{api: api, webhookSecret: cfg.WebhookSecret}
}

// CreateSession creates a one-item payment-mode checkout session.
func (s *Stripe) CreateSession(ctx context.Context, p payment.SessionParams) (*payment.Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(p.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.Description),
				},
				UnitAmount: stripe.Int64(p.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	if p.ClientReference != "" {
		params.ClientReferenceID = stripe.String(p.ClientReference)
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	return &payment.Session{ID: sess.ID, URL: sess.URL}, nil
}

// SessionStatus retrieves the session's payment status and collected amount.
func (s *Stripe) SessionStatus(ctx context.Context, sessionID string) (*payment.SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, errors.Wrap(err, "get checkout session")
	}
	return &payment.SessionStatus{
		Paid:        sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal: sess.AmountTotal,
		Currency:    string(sess.Currency),
	}, nil
}

// ParseEvent verifies the Stripe-Signature header and extracts the session
// id from checkout session events.
func (s *Stripe) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	out := &payment.Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}
	if err := jx.DecodeBytes(ev.Data.Raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "id" {
			return d.Skip()
		}
		id, err := d.Str()
		if err != nil {
			return err
		}
		out.SessionID = id
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode event object")
	}
	return out, nil
}
