package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RecentLimit is the number of orders shown on the customer dashboard.
const RecentLimit = 5

// EventSink receives lifecycle notifications.
type EventSink interface {
	StatusChanged(ctx context.Context, o Order, from Status) error
}

// Options tunes the order Service.
type Options struct {
	// StrictTransitions rejects admin status changes outside the lifecycle
	// graph. When false, such changes are applied and logged.
	StrictTransitions bool
	Events            EventSink
	Now               func() time.Time
}

// Service implements order queries and admin status updates.
type Service struct {
	orders Repository
	strict bool
	events EventSink
	now    func() time.Time
}

// NewService creates an order Service.
func NewService(orders Repository, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		orders: orders,
		strict: opts.StrictTransitions,
		events: opts.Events,
		now:    opts.Now,
	}
}

// Recent returns the customer's latest orders by pickup date.
func (s *Service) Recent(ctx context.Context, userID int64) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID, RecentLimit)
	if err != nil {
		return nil, errors.Wrap(err, "list recent orders")
	}
	return orders, nil
}

// History is a customer's full order history with aggregates.
type History struct {
	Orders  []Order
	Summary Summary
}

// History returns every order of the customer, newest pickup first.
func (s *Service) History(ctx context.Context, userID int64) (*History, error) {
	orders, err := s.orders.ListByUser(ctx, userID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &History{Orders: orders, Summary: Summarize(orders)}, nil
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		f.From, f.To = f.To, f.From
	}
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Estimate returns the delivery estimate for an order as of now.
func (s *Service) Estimate(o Order) DeliveryEstimate {
	return EstimateDelivery(o.PickupDate, o.Status, s.now())
}

// UpdateStatus overwrites an order status on behalf of an administrator.
func (s *Service) UpdateStatus(ctx context.Context, id int64, raw string) (*Order, error) {
	to, err := ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	if !to.AdminSettable() {
		return nil, ErrStatusNotSettable
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.Status

	lg := zctx.From(ctx).With(
		zap.Int64("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if from != to && !CanTransition(from, to) {
		if s.strict {
			return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
		}
		lg.Warn("Status change outside lifecycle")
	}

	if err := s.orders.UpdateStatus(ctx, id, from, to); err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	o.Status = to
	lg.Info("Order status updated")

	if s.events != nil && from != to {
		if err := s.events.StatusChanged(ctx, *o, from); err != nil {
			lg.Warn("Publish status change", zap.Error(err))
		}
	}
	return o, nil
}

// Stats is the admin dashboard aggregate.
type Stats struct {
	Summary            Summary
	TopCustomers       []CustomerTotal
	FirstTimeCustomers int
	FirstTimeOrders    int
	FirstTimeDiscount  decimal.Decimal
}

// Stats gathers dashboard aggregates over all orders.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var (
		orders    []Order
		firstTime int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if orders, err = s.orders.List(gctx, Filter{}); err != nil {
			return errors.Wrap(err, "list orders")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if firstTime, err = s.orders.CountFirstTimeCustomers(gctx); err != nil {
			return errors.Wrap(err, "count first-time customers")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	count, discount := FirstTimeDiscount(orders)
	return &Stats{
		Summary:            Summarize(orders),
		TopCustomers:       TopCustomers(orders, 10),
		FirstTimeCustomers: firstTime,
		FirstTimeOrders:    count,
		FirstTimeDiscount:  discount,
	}, nil
}
