package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/pricing"
	"github.com/washgo/delivery/internal/domain/user"
)

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Str(pricing.Display(v))
}

func encodeUser(e *jx.Encoder, u *user.User) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(u.ID) })
		e.Field("username", func(e *jx.Encoder) { e.Str(u.Username) })
		e.Field("email", func(e *jx.Encoder) { e.Str(u.Email) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(u.Phone) })
		e.Field("is_admin", func(e *jx.Encoder) { e.Bool(u.IsAdmin) })
		e.Field("first_time", func(e *jx.Encoder) { e.Bool(u.FirstTime) })
	})
}

func (h *Handler) encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Int64(o.UserID) })
		e.Field("pickup_date", func(e *jx.Encoder) { e.Str(o.PickupDate.Format(time.DateOnly)) })
		e.Field("pickup_time", func(e *jx.Encoder) { e.Str(o.PickupTime.String()) })
		e.Field("location", func(e *jx.Encoder) { e.Str(o.Location) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("progress", func(e *jx.Encoder) { e.Int(o.Status.Progress()) })
		e.Field("weight", func(e *jx.Encoder) { e.Str(o.Weight.String()) })
		e.Field("item_count", func(e *jx.Encoder) { e.Int(o.ItemCount) })
		e.Field("blankets", func(e *jx.Encoder) { e.Int(o.Blankets) })
		e.Field("pillows", func(e *jx.Encoder) { e.Int(o.Pillows) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("first_time_discount", func(e *jx.Encoder) { e.Bool(o.FirstTimeDiscount) })

		est := h.orders.Estimate(o)
		e.Field("delivered", func(e *jx.Encoder) { e.Bool(est.Delivered) })
		if !est.Delivered {
			e.Field("estimated_delivery", func(e *jx.Encoder) { e.Str(est.Date.Format(time.DateOnly)) })
		}
	})
}

func (h *Handler) encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.Arr(func(e *jx.Encoder) {
		for _, o := range orders {
			h.encodeOrder(e, o)
		}
	})
}

func encodeSummary(e *jx.Encoder, s order.Summary) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("count", func(e *jx.Encoder) { e.Int(s.Count) })
		e.Field("revenue", func(e *jx.Encoder) { money(e, s.Revenue) })
		e.Field("by_status", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				// Lifecycle order keeps the output stable.
				for _, st := range order.Statuses {
					if n, ok := s.ByStatus[st]; ok {
						e.Field(string(st), func(e *jx.Encoder) { e.Int(n) })
					}
				}
			})
		})
		e.Field("daily", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, d := range s.Daily {
					e.Obj(func(e *jx.Encoder) {
						e.Field("date", func(e *jx.Encoder) { e.Str(d.Date.Format(time.DateOnly)) })
						e.Field("orders", func(e *jx.Encoder) { e.Int(d.Orders) })
						e.Field("revenue", func(e *jx.Encoder) { money(e, d.Revenue) })
					})
				}
			})
		})
	})
}

func encodeQuote(e *jx.Encoder, q pricing.Breakdown) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("weight_charge", func(e *jx.Encoder) { money(e, q.WeightCharge) })
		e.Field("discount", func(e *jx.Encoder) { money(e, q.Discount) })
		e.Field("special_items", func(e *jx.Encoder) { money(e, q.SpecialItems) })
		e.Field("total", func(e *jx.Encoder) { money(e, q.Total) })
		e.Field("first_time_discount", func(e *jx.Encoder) { e.Bool(q.FirstTime) })
	})
}
