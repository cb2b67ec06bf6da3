package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order id does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrStatusConflict is returned when the order status changed between
	// read and conditional update.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// Order is a paid laundry pickup.
type Order struct {
	ID         int64
	UserID     int64
	PickupDate time.Time
	PickupTime TimeOfDay
	Location   string
	Status     Status
	Weight     decimal.Decimal
	ItemCount  int
	Blankets   int
	Pillows    int
	Total      decimal.Decimal
	// FirstTimeDiscount records whether the 20% first order discount was
	// applied when the order was priced.
	FirstTimeDiscount bool
	SessionID         string
	CreatedAt         time.Time
}

// Filter narrows order listings. Zero values leave a dimension unbounded.
type Filter struct {
	Statuses []Status
	// From and To bound the pickup date, both inclusive.
	From, To time.Time
	MinTotal decimal.NullDecimal
	MaxTotal decimal.NullDecimal
	Limit    int
}

// Repository is the order side of the store.
type Repository interface {
	Get(ctx context.Context, id int64) (*Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	// UpdateStatus sets status to `to` only if it is still `from`.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	CountFirstTimeCustomers(ctx context.Context) (int, error)
}

// TimeOfDay is a wall clock time without a date, stored as the offset from
// midnight.
type TimeOfDay time.Duration

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// ParseTimeOfDay parses "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			d := time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second
			return TimeOfDay(d), nil
		}
	}
	return 0, errors.Errorf("invalid time of day %q", s)
}

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t)
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
