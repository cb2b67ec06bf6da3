package payment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/pricing"
)

const instrumentationName = "github.com/washgo/delivery/internal/domain/payment"

// Options configures the payment Service.
type Options struct {
	Currency string
	// SuccessURL must contain {CHECKOUT_SESSION_ID}; the provider substitutes
	// the session id on redirect.
	SuccessURL string
	CancelURL  string

	Events   EventSink
	Receipts Receipts

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Now            func() time.Time
}

// Service implements checkout and payment confirmation.
type Service struct {
	provider Provider
	payments Repository
	users    Users
	orders   Orders

	currency   string
	successURL string
	cancelURL  string
	events     EventSink
	receipts   Receipts
	now        func() time.Time

	tracer   trace.Tracer
	sessions metric.Int64Counter
	created  metric.Int64Counter
	replays  metric.Int64Counter
	failures metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(provider Provider, payments Repository, users Users, orders Orders, opts Options) (*Service, error) {
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}

	s := &Service{
		provider:   provider,
		payments:   payments,
		users:      users,
		orders:     orders,
		currency:   strings.ToLower(opts.Currency),
		successURL: opts.SuccessURL,
		cancelURL:  opts.CancelURL,
		events:     opts.Events,
		receipts:   opts.Receipts,
		now:        opts.Now,
		tracer:     opts.TracerProvider.Tracer(instrumentationName),
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var err error
	if s.sessions, err = meter.Int64Counter("payment.checkout.sessions",
		metric.WithDescription("Checkout sessions created"),
	); err != nil {
		return nil, errors.Wrap(err, "sessions counter")
	}
	if s.created, err = meter.Int64Counter("payment.orders.finalized",
		metric.WithDescription("Orders created from confirmed payments"),
	); err != nil {
		return nil, errors.Wrap(err, "finalized counter")
	}
	if s.replays, err = meter.Int64Counter("payment.confirm.replays",
		metric.WithDescription("Confirmations of already finalized sessions"),
	); err != nil {
		return nil, errors.Wrap(err, "replays counter")
	}
	if s.failures, err = meter.Int64Counter("payment.finalization.failures",
		metric.WithDescription("Paid sessions whose order could not be recorded"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	return s, nil
}

// Quote prices a booking for the given customer. A zero userID prices
// without the first-time discount.
func (s *Service) Quote(ctx context.Context, userID int64, weight decimal.Decimal, blankets, pillows int) (pricing.Breakdown, error) {
	if err := pricing.Validate(weight, blankets, pillows); err != nil {
		return pricing.Breakdown{}, err
	}
	firstTime := false
	if userID != 0 {
		u, err := s.users.Get(ctx, userID)
		if err != nil {
			return pricing.Breakdown{}, errors.Wrap(err, "get user")
		}
		firstTime = u.FirstTime
	}
	return pricing.Quote(weight, blankets, pillows, firstTime), nil
}

// CheckoutResult is a created checkout session with its price.
type CheckoutResult struct {
	SessionID string
	URL       string
	Quote     pricing.Breakdown
}

func (s *Service) validate(req CheckoutRequest) error {
	if err := pricing.Validate(req.Weight, req.Blankets, req.Pillows); err != nil {
		return err
	}
	if req.ItemCount < 0 {
		return errors.Wrap(ErrInvalidCheckout, "item count must not be negative")
	}
	if req.ItemCount > pricing.MaxItems {
		return errors.Wrap(ErrInvalidCheckout, "item count exceeds the booking limit")
	}
	if strings.TrimSpace(req.Location) == "" {
		return errors.Wrap(ErrInvalidCheckout, "pickup location is required")
	}
	if req.PickupDate.IsZero() {
		return errors.Wrap(ErrInvalidCheckout, "pickup date is required")
	}
	y, m, d := s.now().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	py, pm, pd := req.PickupDate.Date()
	if time.Date(py, pm, pd, 0, 0, 0, 0, time.UTC).Before(today) {
		return errors.Wrap(ErrInvalidCheckout, "pickup date is in the past")
	}
	return nil
}

// Checkout prices the booking, opens a checkout session and stores the
// pending order under the session id.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "payment.Checkout",
		trace.WithAttributes(attribute.Int64("user.id", req.UserID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := s.validate(req); err != nil {
		return nil, err
	}

	u, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	q := pricing.Quote(req.Weight, req.Blankets, req.Pillows, u.FirstTime)
	amount, err := pricing.MinorUnits(q.Total)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCheckout, err.Error())
	}

	sess, err := s.provider.CreateSession(ctx, SessionParams{
		Amount:          amount,
		Currency:        s.currency,
		Description:     "Laundry pickup " + req.PickupDate.Format(time.DateOnly),
		CustomerEmail:   u.Email,
		ClientReference: strconv.FormatInt(u.ID, 10),
		IdempotencyKey:  uuid.NewString(),
		SuccessURL:      s.successURL,
		CancelURL:       s.cancelURL,
	})
	if err != nil {
		return nil, &ProviderError{Op: "create session", Err: err}
	}

	p := &Pending{
		SessionID:         sess.ID,
		UserID:            u.ID,
		PickupDate:        req.PickupDate,
		PickupTime:        req.PickupTime,
		Location:          strings.TrimSpace(req.Location),
		Weight:            req.Weight,
		ItemCount:         req.ItemCount,
		Blankets:          req.Blankets,
		Pillows:           req.Pillows,
		Total:             q.Total,
		FirstTimeDiscount: u.FirstTime,
		CreatedAt:         s.now(),
	}
	if err := s.payments.SavePending(ctx, p); err != nil {
		return nil, errors.Wrap(err, "save pending order")
	}
	s.sessions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("first_time", u.FirstTime)))

	zctx.From(ctx).Info("Checkout session created",
		zap.String("session_id", sess.ID),
		zap.Int64("user_id", u.ID),
		zap.String("total", pricing.Display(q.Total)),
	)
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL, Quote: q}, nil
}

// Confirm finalizes the order for a session the customer was redirected
// back from. The session must belong to userID.
func (s *Service) Confirm(ctx context.Context, sessionID string, userID int64) (*Result, error) {
	return s.confirm(ctx, sessionID, userID, true)
}

// ConfirmCompleted finalizes the order for a session the provider reported
// as completed.
func (s *Service) ConfirmCompleted(ctx context.Context, sessionID string) (*Result, error) {
	return s.confirm(ctx, sessionID, 0, false)
}

func (s *Service) confirm(ctx context.Context, sessionID string, userID int64, checkUser bool) (_ *Result, rerr error) {
	ctx, span := s.tracer.Start(ctx, "payment.Confirm",
		trace.WithAttributes(attribute.String("checkout.session_id", sessionID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()
	lg := zctx.From(ctx).With(zap.String("session_id", sessionID))

	if sessionID == "" {
		lg.Warn("Confirmation without session id")
		return nil, ErrSessionMismatch
	}
	p, err := s.payments.GetPending(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrPendingNotFound) {
			lg.Warn("Confirmation for unknown session")
			return nil, ErrSessionMismatch
		}
		return nil, errors.Wrap(err, "get pending order")
	}
	if checkUser && p.UserID != userID {
		lg.Warn("Confirmation by another user",
			zap.Int64("user_id", userID),
			zap.Int64("owner_id", p.UserID),
		)
		return nil, ErrSessionMismatch
	}

	if p.Finalized() {
		o, err := s.orders.Get(ctx, p.OrderID)
		if err != nil {
			return nil, errors.Wrap(err, "get finalized order")
		}
		s.replays.Add(ctx, 1)
		lg.Info("Session already finalized", zap.Int64("order_id", o.ID))
		return &Result{Order: *o, Created: false}, nil
	}

	st, err := s.provider.SessionStatus(ctx, sessionID)
	if err != nil {
		return nil, &ProviderError{Op: "retrieve session", Err: err}
	}
	if !st.Paid {
		return nil, ErrNotPaid
	}
	if err := s.checkAmount(p, st); err != nil {
		s.failures.Add(ctx, 1)
		lg.Error("Paid amount differs from order total",
			zap.Int64("amount_total", st.AmountTotal),
			zap.String("currency", st.Currency),
			zap.String("total", pricing.Display(p.Total)),
		)
		return nil, err
	}

	res, err := s.payments.Finalize(ctx, sessionID)
	if err != nil {
		s.failures.Add(ctx, 1)
		lg.Error("Order finalization failed", zap.Error(err))
		return nil, &FinalizationError{SessionID: sessionID, Err: err}
	}
	if !res.Created {
		s.replays.Add(ctx, 1)
		return res, nil
	}

	s.created.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("first_time", res.Order.FirstTimeDiscount),
	))
	span.SetAttributes(attribute.Int64("order.id", res.Order.ID))
	lg.Info("Order created",
		zap.Int64("order_id", res.Order.ID),
		zap.Int64("user_id", res.Order.UserID),
		zap.String("total", pricing.Display(res.Order.Total)),
	)
	s.afterPaid(ctx, lg, res.Order)
	return res, nil
}

func (s *Service) checkAmount(p *Pending, st *SessionStatus) error {
	want, err := pricing.MinorUnits(p.Total)
	if err != nil {
		return errors.Wrap(ErrAmountMismatch, err.Error())
	}
	if st.AmountTotal != want || !strings.EqualFold(st.Currency, s.currency) {
		return errors.Wrapf(ErrAmountMismatch, "paid %d %s, expected %d %s",
			st.AmountTotal, st.Currency, want, s.currency)
	}
	return nil
}

// afterPaid runs best-effort side effects of a new order.
func (s *Service) afterPaid(ctx context.Context, lg *zap.Logger, o order.Order) {
	if s.events != nil {
		if err := s.events.OrderPaid(ctx, o); err != nil {
			lg.Warn("Publish order paid", zap.Error(err))
		}
	}
	if s.receipts != nil {
		u, err := s.users.Get(ctx, o.UserID)
		if err != nil {
			lg.Warn("Load user for receipt", zap.Error(err))
			return
		}
		if err := s.receipts.SendReceipt(ctx, *u, o); err != nil {
			lg.Warn("Send receipt", zap.Error(err))
		}
	}
}
