// Package notify sends payment receipts by email.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"gopkg.in/gomail.v2"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/payment"
	"github.com/washgo/delivery/internal/domain/pricing"
	"github.com/washgo/delivery/internal/domain/user"
)

// Config configures the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether a relay is configured.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// Sender delivers a composed message.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

var _ payment.Receipts = (*Mailer)(nil)

// Mailer composes and sends receipts.
type Mailer struct {
	from   string
	sender Sender
}

// NewMailer creates a Mailer that sends through the configured SMTP relay.
func NewMailer(cfg Config) *Mailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	return &Mailer{from: cfg.From, sender: d}
}

// SendReceipt emails an order receipt to the customer.
func (m *Mailer) SendReceipt(ctx context.Context, u user.User, o order.Order) error {
	if u.Email == "" {
		return errors.Errorf("user %d has no email", u.ID)
	}
	msg := m.receipt(u, o)

	done := make(chan error, 1)
	go func() { done <- m.sender.DialAndSend(msg) }()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "send receipt")
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "send receipt")
		}
		return nil
	}
}

func (m *Mailer) receipt(u user.User, o order.Order) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", u.Email)
	msg.SetHeader("Subject", fmt.Sprintf("Wash & Go receipt for order #%d", o.ID))
	msg.SetBody("text/plain", receiptText(u, o))
	return msg
}

func receiptText(u user.User, o order.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", u.Username)
	fmt.Fprintf(&b, "Thanks for your order. Your payment was received.\n\n")
	fmt.Fprintf(&b, "Order:    #%d\n", o.ID)
	fmt.Fprintf(&b, "Pickup:   %s at %s\n", o.PickupDate.Format(time.DateOnly), o.PickupTime)
	fmt.Fprintf(&b, "Location: %s\n", o.Location)
	fmt.Fprintf(&b, "Weight:   %s kg\n", o.Weight.String())
	if o.Blankets > 0 || o.Pillows > 0 {
		fmt.Fprintf(&b, "Extras:   %d blanket(s), %d pillow(s)\n", o.Blankets, o.Pillows)
	}
	if o.FirstTimeDiscount {
		b.WriteString("Discount: 20% first order\n")
	}
	fmt.Fprintf(&b, "Total:    $%s\n", pricing.Display(o.Total))
	return b.String()
}
