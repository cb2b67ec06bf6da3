// Package payment turns priced pickup requests into paid orders.
//
// Checkout creates a hosted checkout session with the provider and persists
// a pending order under the session id. Confirm verifies with the provider
// that the session was paid, then finalizes the pending order into a Paid
// order exactly once.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/user"
)

var (
	// ErrInvalidCheckout is returned for checkout requests that fail
	// validation. The wrapped message names the problem.
	ErrInvalidCheckout = errors.New("invalid checkout request")
	// ErrSessionMismatch is returned when a confirmation refers to a session
	// that has no pending order for the caller.
	ErrSessionMismatch = errors.New("checkout session does not match a pending order")
	// ErrNotPaid is returned when the provider reports the session unpaid.
	ErrNotPaid = errors.New("payment not completed")
	// ErrAmountMismatch is returned when the provider collected a different
	// amount than the pending order's total.
	ErrAmountMismatch = errors.New("paid amount does not match order total")
	// ErrPendingNotFound is returned by the store for unknown session ids.
	ErrPendingNotFound = errors.New("pending order not found")
	// ErrDiscountAlreadyUsed is returned by finalization when the pending
	// order was priced with the first-time discount but the customer's flag
	// had already been cleared by another order.
	ErrDiscountAlreadyUsed = errors.New("first-time discount already used")
)

// ProviderError wraps a failure talking to the payment provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// FinalizationError is returned when payment succeeded but the order could
// not be recorded. It is distinct from payment failures: the customer has
// been charged.
type FinalizationError struct {
	SessionID string
	Err       error
}

func (e *FinalizationError) Error() string {
	return fmt.Sprintf("order finalization failed for session %s: %v", e.SessionID, e.Err)
}

func (e *FinalizationError) Unwrap() error { return e.Err }

// CheckoutRequest is a customer's pickup booking before payment.
type CheckoutRequest struct {
	UserID     int64
	PickupDate time.Time
	PickupTime order.TimeOfDay
	Location   string
	Weight     decimal.Decimal
	ItemCount  int
	Blankets   int
	Pillows    int
}

// Pending is a priced booking awaiting payment confirmation.
type Pending struct {
	SessionID         string
	UserID            int64
	PickupDate        time.Time
	PickupTime        order.TimeOfDay
	Location          string
	Weight            decimal.Decimal
	ItemCount         int
	Blankets          int
	Pillows           int
	Total             decimal.Decimal
	FirstTimeDiscount bool
	CreatedAt         time.Time

	// OrderID is set once the pending order has been finalized.
	OrderID     int64
	FinalizedAt time.Time
}

// Finalized reports whether a pending order has been turned into an order.
func (p *Pending) Finalized() bool {
	return p.OrderID != 0
}

// Session is a hosted checkout session.
type Session struct {
	ID  string
	URL string
}

// SessionParams describes the checkout session to create.
type SessionParams struct {
	// Amount is in minor currency units.
	Amount          int64
	Currency        string
	Description     string
	CustomerEmail   string
	ClientReference string
	IdempotencyKey  string
	SuccessURL      string
	CancelURL       string
}

// SessionStatus is the provider's view of a checkout session.
type SessionStatus struct {
	Paid bool
	// AmountTotal is the collected amount in minor currency units.
	AmountTotal int64
	Currency    string
}

// Provider is the external checkout provider.
type Provider interface {
	CreateSession(ctx context.Context, p SessionParams) (*Session, error)
	SessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
}

// Result is the outcome of finalizing a pending order.
type Result struct {
	Order order.Order
	// Created is false when the order already existed.
	Created bool
}

// Repository is the payment side of the store.
type Repository interface {
	SavePending(ctx context.Context, p *Pending) error
	GetPending(ctx context.Context, sessionID string) (*Pending, error)
	// Finalize atomically turns the pending order into a Paid order and
	// clears the customer's first-time flag. Finalizing twice returns the
	// existing order with Created false.
	Finalize(ctx context.Context, sessionID string) (*Result, error)
}

// Users reads customer records.
type Users interface {
	Get(ctx context.Context, id int64) (*user.User, error)
}

// Orders reads orders.
type Orders interface {
	Get(ctx context.Context, id int64) (*order.Order, error)
}

// EventSink receives paid order notifications.
type EventSink interface {
	OrderPaid(ctx context.Context, o order.Order) error
}

// Receipts sends payment receipts.
type Receipts interface {
	SendReceipt(ctx context.Context, u user.User, o order.Order) error
}

// EventCheckoutCompleted is the provider event sent when a customer completes
// a checkout session.
const EventCheckoutCompleted = "checkout.session.completed"

// Event is a verified provider notification.
type Event struct {
	ID        string
	Type      string
	SessionID string
}
