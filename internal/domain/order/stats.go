package order

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/washgo/delivery/internal/domain/pricing"
)

// DailyTotal aggregates orders sharing a pickup date.
type DailyTotal struct {
	Date    time.Time
	Orders  int
	Revenue decimal.Decimal
}

// CustomerTotal is the revenue attributed to one customer.
type CustomerTotal struct {
	UserID  int64
	Revenue decimal.Decimal
}

// Summary aggregates a set of orders.
type Summary struct {
	Count    int
	Revenue  decimal.Decimal
	ByStatus map[Status]int
	Daily    []DailyTotal
}

// Summarize groups orders by status and pickup date. Daily totals are sorted
// by date ascending.
func Summarize(orders []Order) Summary {
	s := Summary{
		Count:    len(orders),
		Revenue:  decimal.Zero,
		ByStatus: make(map[Status]int),
	}
	daily := make(map[time.Time]*DailyTotal)
	for _, o := range orders {
		s.Revenue = s.Revenue.Add(o.Total)
		s.ByStatus[o.Status]++

		day := truncateDay(o.PickupDate)
		dt, ok := daily[day]
		if !ok {
			dt = &DailyTotal{Date: day, Revenue: decimal.Zero}
			daily[day] = dt
		}
		dt.Orders++
		dt.Revenue = dt.Revenue.Add(o.Total)
	}

	s.Daily = make([]DailyTotal, 0, len(daily))
	for _, dt := range daily {
		s.Daily = append(s.Daily, *dt)
	}
	sort.Slice(s.Daily, func(i, j int) bool {
		return s.Daily[i].Date.Before(s.Daily[j].Date)
	})
	return s
}

// TopCustomers returns up to n customers ordered by revenue, highest first.
// Ties are broken by user id.
func TopCustomers(orders []Order, n int) []CustomerTotal {
	byUser := make(map[int64]decimal.Decimal)
	for _, o := range orders {
		byUser[o.UserID] = byUser[o.UserID].Add(o.Total)
	}

	out := make([]CustomerTotal, 0, len(byUser))
	for id, rev := range byUser {
		out = append(out, CustomerTotal{UserID: id, Revenue: rev})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// FirstTimeDiscount sums the discount granted on orders priced with the
// first-time rate.
func FirstTimeDiscount(orders []Order) (count int, total decimal.Decimal) {
	total = decimal.Zero
	for _, o := range orders {
		if !o.FirstTimeDiscount {
			continue
		}
		count++
		full := pricing.ByWeight(o.Weight, false)
		total = total.Add(full.Sub(pricing.ByWeight(o.Weight, true)))
	}
	return count, total
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
