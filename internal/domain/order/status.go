package order

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Status is the lifecycle state of an order. Values are stored verbatim.
type Status string

const (
	StatusPending          Status = "Pending"
	StatusPaid             Status = "Paid"
	StatusPickedUp         Status = "Picked Up"
	StatusInProgress       Status = "In Progress"
	StatusReadyForDelivery Status = "Ready for Delivery"
	StatusDelivered        Status = "Delivered"
	StatusCancelled        Status = "Cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusPaid,
	StatusPickedUp,
	StatusInProgress,
	StatusReadyForDelivery,
	StatusDelivered,
	StatusCancelled,
}

var (
	// ErrUnknownStatus is returned for status strings outside the enumeration.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrStatusNotSettable is returned when an administrator tries to set a
	// status that only payment confirmation may set.
	ErrStatusNotSettable = errors.New("status can only be set by payment confirmation")
	// ErrInvalidTransition is returned in strict mode for changes outside the
	// lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ParseStatus accepts a stored value or a compact spelling such as
// "ReadyForDelivery" or "picked_up".
func ParseStatus(s string) (Status, error) {
	key := statusKey(s)
	for _, st := range Statuses {
		if statusKey(string(st)) == key {
			return st, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownStatus, "%q", s)
}

func statusKey(s string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}

// IsTerminal reports whether no further transitions are modeled.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// AdminSettable reports whether an administrator may set this status.
func (s Status) AdminSettable() bool {
	return s != StatusPaid
}

var nextStatus = map[Status]Status{
	StatusPending:          StatusPaid,
	StatusPaid:             StatusPickedUp,
	StatusPickedUp:         StatusInProgress,
	StatusInProgress:       StatusReadyForDelivery,
	StatusReadyForDelivery: StatusDelivered,
}

// CanTransition reports whether from -> to is an edge of the lifecycle:
// one step forward, or cancellation of a non-terminal order.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return nextStatus[from] == to
}

// Progress is the completion percentage shown on tracking views.
func (s Status) Progress() int {
	switch s {
	case StatusPickedUp:
		return 25
	case StatusInProgress:
		return 50
	case StatusReadyForDelivery:
		return 75
	case StatusDelivered:
		return 100
	default:
		return 0
	}
}

// DeliveryEstimate is the expected delivery for an order.
type DeliveryEstimate struct {
	Delivered bool
	Date      time.Time
}

// EstimateDelivery returns today for orders ready for delivery and pickup
// date plus two days for everything still in the pipeline.
func EstimateDelivery(pickupDate time.Time, s Status, now time.Time) DeliveryEstimate {
	switch s {
	case StatusDelivered:
		return DeliveryEstimate{Delivered: true}
	case StatusReadyForDelivery:
		y, m, d := now.Date()
		return DeliveryEstimate{Date: time.Date(y, m, d, 0, 0, 0, 0, now.Location())}
	default:
		return DeliveryEstimate{Date: pickupDate.AddDate(0, 0, 2)}
	}
}
