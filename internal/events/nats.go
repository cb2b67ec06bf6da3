// Package events publishes order lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/nats-io/nats.go"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/payment"
)

// Subjects.
const (
	SubjectOrderPaid          = "orders.paid"
	SubjectOrderStatusChanged = "orders.status_changed"
)

var (
	_ order.EventSink   = (*Publisher)(nil)
	_ payment.EventSink = (*Publisher)(nil)
)

// Connect dials NATS with reconnect settings suitable for a long-running
// service.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", url)
	}
	return nc, nil
}

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher encodes order events as JSON and publishes them.
type Publisher struct {
	conn Conn
	now  func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(conn Conn) *Publisher {
	return &Publisher{conn: conn, now: time.Now}
}

// OrderPaid publishes a newly created order.
func (p *Publisher) OrderPaid(ctx context.Context, o order.Order) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("event", func(e *jx.Encoder) { e.Str(SubjectOrderPaid) })
		e.Field("at", func(e *jx.Encoder) { e.Str(p.now().UTC().Format(time.RFC3339)) })
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o) })
	})
	return p.publish(ctx, SubjectOrderPaid, e.Bytes())
}

// StatusChanged publishes an admin status update.
func (p *Publisher) StatusChanged(ctx context.Context, o order.Order, from order.Status) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("event", func(e *jx.Encoder) { e.Str(SubjectOrderStatusChanged) })
		e.Field("at", func(e *jx.Encoder) { e.Str(p.now().UTC().Format(time.RFC3339)) })
		e.Field("from", func(e *jx.Encoder) { e.Str(string(from)) })
		e.Field("to", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o) })
	})
	return p.publish(ctx, SubjectOrderStatusChanged, e.Bytes())
}

func (p *Publisher) publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	return nil
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Int64(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("pickup_date", func(e *jx.Encoder) { e.Str(o.PickupDate.Format(time.DateOnly)) })
		e.Field("pickup_time", func(e *jx.Encoder) { e.Str(o.PickupTime.String()) })
		e.Field("location", func(e *jx.Encoder) { e.Str(o.Location) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("first_time_discount", func(e *jx.Encoder) { e.Bool(o.FirstTimeDiscount) })
	})
}

// Nop discards events.
type Nop struct{}

func (Nop) OrderPaid(context.Context, order.Order) error { return nil }

func (Nop) StatusChanged(context.Context, order.Order, order.Status) error { return nil }
