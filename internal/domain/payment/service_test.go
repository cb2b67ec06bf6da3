package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/pricing"
	"github.com/washgo/delivery/internal/domain/user"
)

// --- Mock implementations ---

// memStore implements Repository, Users and Orders over shared state so that
// finalization can clear the first-time flag the way the database does.
type memStore struct {
	mu          sync.Mutex
	users       map[int64]*user.User
	pending     map[string]*Pending
	orders      map[int64]*order.Order
	nextOrderID int64
	finalizeErr error
}

func newMemStore(users ...user.User) *memStore {
	s := &memStore{
		users:   make(map[int64]*user.User),
		pending: make(map[string]*Pending),
		orders:  make(map[int64]*order.Order),
	}
	for i := range users {
		u := users[i]
		s.users[u.ID] = &u
	}
	return s
}

func (s *memStore) Get(_ context.Context, id int64) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) SavePending(_ context.Context, p *Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pending[p.SessionID] = &cp
	return nil
}

func (s *memStore) GetPending(_ context.Context, sessionID string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[sessionID]
	if !ok {
		return nil, ErrPendingNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) Finalize(_ context.Context, sessionID string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return nil, s.finalizeErr
	}
	p, ok := s.pending[sessionID]
	if !ok {
		return nil, ErrPendingNotFound
	}
	if p.Finalized() {
		return &Result{Order: *s.orders[p.OrderID], Created: false}, nil
	}
	u := s.users[p.UserID]
	cleared := u.FirstTime
	u.FirstTime = false
	if p.FirstTimeDiscount && !cleared {
		return nil, ErrDiscountAlreadyUsed
	}

	s.nextOrderID++
	o := &order.Order{
		ID:                s.nextOrderID,
		UserID:            p.UserID,
		PickupDate:        p.PickupDate,
		PickupTime:        p.PickupTime,
		Location:          p.Location,
		Status:            order.StatusPaid,
		Weight:            p.Weight,
		ItemCount:         p.ItemCount,
		Blankets:          p.Blankets,
		Pillows:           p.Pillows,
		Total:             p.Total,
		FirstTimeDiscount: p.FirstTimeDiscount,
		SessionID:         p.SessionID,
	}
	s.orders[o.ID] = o
	p.OrderID = o.ID
	return &Result{Order: *o, Created: true}, nil
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type orderReader struct{ s *memStore }

func (r orderReader) Get(_ context.Context, id int64) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

type mockProvider struct {
	mu        sync.Mutex
	created   []SessionParams
	amounts   map[string]int64
	paid      map[string]bool
	createErr error
	paidErr   error
	seq       int
}

func (p *mockProvider) CreateSession(_ context.Context, params SessionParams) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.seq++
	p.created = append(p.created, params)
	id := fmt.Sprintf("cs_test_%d", p.seq)
	if p.amounts == nil {
		p.amounts = make(map[string]int64)
	}
	p.amounts[id] = params.Amount
	return &Session{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (p *mockProvider) SessionStatus(_ context.Context, sessionID string) (*SessionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paidErr != nil {
		return nil, p.paidErr
	}
	return &SessionStatus{
		Paid:        p.paid[sessionID],
		AmountTotal: p.amounts[sessionID],
		Currency:    "usd",
	}, nil
}

func (p *mockProvider) setAmount(id string, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.amounts[id] = amount
}

func (p *mockProvider) markPaid(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paid == nil {
		p.paid = make(map[string]bool)
	}
	p.paid[id] = true
}

type recordingEvents struct{ paid []int64 }

func (r *recordingEvents) OrderPaid(_ context.Context, o order.Order) error {
	r.paid = append(r.paid, o.ID)
	return nil
}

type failingReceipts struct{ calls int }

func (r *failingReceipts) SendReceipt(context.Context, user.User, order.Order) error {
	r.calls++
	return errors.New("smtp unavailable")
}

// --- Helpers ---

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *memStore
	provider *mockProvider
	events   *recordingEvents
	receipts *failingReceipts
}

func newFixture(t *testing.T, firstTime bool) *fixture {
	t.Helper()
	store := newMemStore(
		user.User{ID: 1, Username: "ana", Email: "ana@example.com", FirstTime: firstTime},
		user.User{ID: 2, Username: "bea", Email: "bea@example.com"},
	)
	provider := &mockProvider{}
	events := &recordingEvents{}
	receipts := &failingReceipts{}
	svc, err := NewService(provider, store, store, orderReader{store}, Options{
		SuccessURL: "https://washgo.example/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://washgo.example/payment/cancel",
		Events:     events,
		Receipts:   receipts,
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, provider: provider, events: events, receipts: receipts}
}

func checkoutRequest(weight string) CheckoutRequest {
	return CheckoutRequest{
		UserID:     1,
		PickupDate: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		PickupTime: order.NewTimeOfDay(9, 0),
		Location:   "1600 Pennsylvania Ave NW, Washington, DC",
		Weight:     decimal.RequireFromString(weight),
		ItemCount:  12,
	}
}

// --- Tests ---

func TestCheckout_FirstTimeDiscount(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.svc.Checkout(context.Background(), checkoutRequest("20"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("67.04").Equal(res.Quote.Total))
	assert.True(t, res.Quote.FirstTime)

	require.Len(t, f.provider.created, 1)
	params := f.provider.created[0]
	assert.Equal(t, int64(6704), params.Amount)
	assert.Equal(t, "usd", params.Currency)
	assert.Equal(t, "ana@example.com", params.CustomerEmail)
	assert.Contains(t, params.SuccessURL, "{CHECKOUT_SESSION_ID}")
	assert.NotEmpty(t, params.IdempotencyKey)

	p, err := f.store.GetPending(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.True(t, p.FirstTimeDiscount)
	assert.True(t, decimal.RequireFromString("67.04").Equal(p.Total))
	assert.False(t, p.Finalized())
}

func TestCheckout_MinorUnitsRounding(t *testing.T) {
	f := newFixture(t, false)

	// 10.5 kg * 4.19 = 43.995
	res, err := f.svc.Checkout(context.Background(), checkoutRequest("10.5"))
	require.NoError(t, err)
	assert.Equal(t, "43.995", res.Quote.Total.String())
	assert.Equal(t, int64(4400), f.provider.created[0].Amount)
}

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CheckoutRequest)
		want   error
	}{
		{"negative weight", func(r *CheckoutRequest) { r.Weight = decimal.NewFromInt(-1) }, pricing.ErrNegativeInput},
		{"negative blankets", func(r *CheckoutRequest) { r.Blankets = -1 }, pricing.ErrNegativeInput},
		{"weight above limit", func(r *CheckoutRequest) { r.Weight = decimal.RequireFromString("4402470170332590136.37") }, pricing.ErrInputTooLarge},
		{"pillows above limit", func(r *CheckoutRequest) { r.Pillows = pricing.MaxItems + 1 }, pricing.ErrInputTooLarge},
		{"item count above limit", func(r *CheckoutRequest) { r.ItemCount = pricing.MaxItems + 1 }, ErrInvalidCheckout},
		{"negative item count", func(r *CheckoutRequest) { r.ItemCount = -3 }, ErrInvalidCheckout},
		{"missing location", func(r *CheckoutRequest) { r.Location = " " }, ErrInvalidCheckout},
		{"past pickup", func(r *CheckoutRequest) { r.PickupDate = testNow.AddDate(0, 0, -1) }, ErrInvalidCheckout},
		{"missing pickup", func(r *CheckoutRequest) { r.PickupDate = time.Time{} }, ErrInvalidCheckout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			req := checkoutRequest("5")
			tt.mutate(&req)

			_, err := f.svc.Checkout(context.Background(), req)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.provider.created)
		})
	}
}

func TestCheckout_TodayIsAllowed(t *testing.T) {
	f := newFixture(t, false)
	req := checkoutRequest("5")
	req.PickupDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
}

func TestCheckout_ProviderFailure(t *testing.T) {
	f := newFixture(t, false)
	f.provider.createErr = errors.New("card network down")

	_, err := f.svc.Checkout(context.Background(), checkoutRequest("5"))
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create session", perr.Op)
	assert.Empty(t, f.store.pending)
}

func TestConfirm_CreatesOrderAndClearsFlag(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	f.provider.markPaid(co.SessionID)

	res, err := f.svc.Confirm(ctx, co.SessionID, 1)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, order.StatusPaid, res.Order.Status)
	assert.Equal(t, co.SessionID, res.Order.SessionID)
	assert.True(t, decimal.RequireFromString("67.04").Equal(res.Order.Total))
	assert.True(t, res.Order.FirstTimeDiscount)

	u, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, u.FirstTime)

	assert.Equal(t, []int64{res.Order.ID}, f.events.paid)
	// Receipt failures do not fail the confirmation.
	assert.Equal(t, 1, f.receipts.calls)
}

func TestConfirm_SecondOrderHasNoDiscount(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	f.provider.markPaid(first.SessionID)
	_, err = f.svc.Confirm(ctx, first.SessionID, 1)
	require.NoError(t, err)

	second, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	assert.False(t, second.Quote.FirstTime)
	assert.True(t, decimal.RequireFromString("83.80").Equal(second.Quote.Total))
}

func TestConfirm_Replay(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	f.provider.markPaid(co.SessionID)

	first, err := f.svc.Confirm(ctx, co.SessionID, 1)
	require.NoError(t, err)

	again, err := f.svc.Confirm(ctx, co.SessionID, 1)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Order.ID, again.Order.ID)

	hook, err := f.svc.ConfirmCompleted(ctx, co.SessionID)
	require.NoError(t, err)
	assert.False(t, hook.Created)

	assert.Equal(t, 1, f.store.orderCount())
	assert.Len(t, f.events.paid, 1)
}

func TestConfirm_SessionMismatch(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	f.provider.markPaid(co.SessionID)

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.svc.Confirm(ctx, "cs_forged", 1)
		require.ErrorIs(t, err, ErrSessionMismatch)
	})
	t.Run("empty session", func(t *testing.T) {
		_, err := f.svc.Confirm(ctx, "", 1)
		require.ErrorIs(t, err, ErrSessionMismatch)
	})
	t.Run("other user", func(t *testing.T) {
		_, err := f.svc.Confirm(ctx, co.SessionID, 2)
		require.ErrorIs(t, err, ErrSessionMismatch)
	})

	assert.Zero(t, f.store.orderCount())
	u, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.FirstTime)
}

func TestConfirm_NotPaid(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, co.SessionID, 1)
	require.ErrorIs(t, err, ErrNotPaid)
	assert.Zero(t, f.store.orderCount())
}

func TestConfirm_ProviderFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	f.provider.paidErr = errors.New("timeout")

	_, err = f.svc.Confirm(ctx, co.SessionID, 1)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "retrieve session", perr.Op)
}

func TestConfirm_AmountMismatch(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	f.provider.markPaid(co.SessionID)
	f.provider.setAmount(co.SessionID, 5000)

	_, err = f.svc.Confirm(ctx, co.SessionID, 1)
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.Zero(t, f.store.orderCount())
	assert.Empty(t, f.events.paid)

	p, err := f.store.GetPending(ctx, co.SessionID)
	require.NoError(t, err)
	assert.False(t, p.Finalized())
}

func TestConfirm_FinalizationError(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	f.provider.markPaid(co.SessionID)
	f.store.finalizeErr = errors.New("connection reset")

	_, err = f.svc.Confirm(ctx, co.SessionID, 1)
	var ferr *FinalizationError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, co.SessionID, ferr.SessionID)
	assert.Contains(t, err.Error(), "order finalization failed")
	assert.NotErrorIs(t, err, ErrNotPaid)
	assert.Empty(t, f.events.paid)
}

func TestConfirm_ConcurrentDiscountedOrders(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// Two sessions priced while the customer was still first-time.
	a, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	b, err := f.svc.Checkout(ctx, checkoutRequest("20"))
	require.NoError(t, err)
	f.provider.markPaid(a.SessionID)
	f.provider.markPaid(b.SessionID)

	_, err = f.svc.Confirm(ctx, a.SessionID, 1)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, b.SessionID, 1)
	var ferr *FinalizationError
	require.ErrorAs(t, err, &ferr)
	require.ErrorIs(t, err, ErrDiscountAlreadyUsed)
	assert.Equal(t, 1, f.store.orderCount())
}

func TestQuote(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	q, err := f.svc.Quote(ctx, 1, decimal.NewFromInt(20), 1, 2)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("96.04").Equal(q.Total))

	q, err = f.svc.Quote(ctx, 0, decimal.NewFromInt(20), 1, 2)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("112.80").Equal(q.Total))

	_, err = f.svc.Quote(ctx, 1, decimal.NewFromInt(-2), 0, 0)
	require.ErrorIs(t, err, pricing.ErrNegativeInput)
}
