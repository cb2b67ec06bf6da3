package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/payment"
)

// quote prices a booking. Anonymous callers get the undiscounted price.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	weight := decimal.Zero
	if raw := r.URL.Query().Get("weight"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			fail(ctx, w, badRequestf("weight must be a number"))
			return
		}
		weight = v
	}
	blankets, err := queryInt(r, "blankets")
	if err != nil {
		fail(ctx, w, err)
		return
	}
	pillows, err := queryInt(r, "pillows")
	if err != nil {
		fail(ctx, w, err)
		return
	}

	q, err := h.payments.Quote(ctx, principal(r).UserID, weight, blankets, pillows)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		req        = payment.CheckoutRequest{UserID: principal(r).UserID}
		pickupDate string
		pickupTime string
	)
	if err := decodeBody(r, fieldDecoders{
		"pickup_date": strField(&pickupDate),
		"pickup_time": strField(&pickupTime),
		"location":    strField(&req.Location),
		"weight":      decimalField(&req.Weight),
		"item_count":  intField(&req.ItemCount),
		"blankets":    intField(&req.Blankets),
		"pillows":     intField(&req.Pillows),
	}); err != nil {
		fail(ctx, w, err)
		return
	}
	if pickupDate != "" {
		d, err := time.Parse(time.DateOnly, pickupDate)
		if err != nil {
			fail(ctx, w, badRequestf("pickup_date must be a YYYY-MM-DD date"))
			return
		}
		req.PickupDate = d
	}
	if pickupTime == "" {
		fail(ctx, w, errors.Wrap(payment.ErrInvalidCheckout, "pickup time is required"))
		return
	}
	t, err := order.ParseTimeOfDay(pickupTime)
	if err != nil {
		fail(ctx, w, badRequestf("pickup_time must be HH:MM"))
		return
	}
	req.PickupTime = t

	res, err := h.payments.Checkout(ctx, req)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("session_id", func(e *jx.Encoder) { e.Str(res.SessionID) })
			e.Field("checkout_url", func(e *jx.Encoder) { e.Str(res.URL) })
			e.Field("quote", func(e *jx.Encoder) { encodeQuote(e, res.Quote) })
		})
	})
}

func (h *Handler) writeResult(w http.ResponseWriter, res *payment.Result) {
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("created", func(e *jx.Encoder) { e.Bool(res.Created) })
			e.Field("order", func(e *jx.Encoder) { h.encodeOrder(e, res.Order) })
		})
	})
}

// confirm finalizes the order after the customer is redirected back from
// the checkout page.
func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		fail(ctx, w, badRequestf("session_id is required"))
		return
	}
	res, err := h.payments.Confirm(ctx, sessionID, principal(r).UserID)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	h.writeResult(w, res)
}

// webhook handles provider events. Non-retryable outcomes are acknowledged
// with 200 so the provider stops redelivering; finalization failures return
// 500 to get a retry.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil || len(payload) > maxBodySize {
		fail(ctx, w, badRequestf("unreadable payload"))
		return
	}
	ev, err := h.events.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		lg.Warn("Rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
		return
	}
	lg = lg.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	if ev.Type != payment.EventCheckoutCompleted || ev.SessionID == "" {
		lg.Debug("Ignoring webhook event")
		w.WriteHeader(http.StatusOK)
		return
	}

	res, err := h.payments.ConfirmCompleted(ctx, ev.SessionID)
	switch {
	case err == nil:
		lg.Info("Webhook confirmed order",
			zap.Int64("order_id", res.Order.ID),
			zap.Bool("created", res.Created),
		)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, payment.ErrSessionMismatch), errors.Is(err, payment.ErrNotPaid):
		lg.Warn("Webhook not confirmed", zap.Error(err))
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, payment.ErrAmountMismatch):
		// Redelivery cannot change the collected amount.
		lg.Error("Webhook amount mismatch", zap.Error(err))
		w.WriteHeader(http.StatusOK)
	default:
		fail(ctx, w, err)
	}
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hist, err := h.orders.History(ctx, principal(r).UserID)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) { h.encodeOrders(e, hist.Orders) })
			e.Field("summary", func(e *jx.Encoder) { encodeSummary(e, hist.Summary) })
		})
	})
}

func parseFilter(r *http.Request) (order.Filter, error) {
	var (
		f   order.Filter
		err error
	)
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := order.ParseStatus(part)
			if err != nil {
				return f, badRequestf("unknown status %q", part)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if f.From, err = queryDate(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryDate(r, "to"); err != nil {
		return f, err
	}
	if f.MinTotal, err = queryDecimal(r, "min_total"); err != nil {
		return f, err
	}
	if f.MaxTotal, err = queryDecimal(r, "max_total"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	if f.Limit < 0 {
		return f, badRequestf("limit must not be negative")
	}
	return f, nil
}

func (h *Handler) adminOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := parseFilter(r)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	orders, err := h.orders.List(ctx, f)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) { h.encodeOrders(e, orders) })
		})
	})
}

func (h *Handler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		fail(ctx, w, badRequestf("order id must be a positive integer"))
		return
	}
	var status string
	if err := decodeBody(r, fieldDecoders{"status": strField(&status)}); err != nil {
		fail(ctx, w, err)
		return
	}

	o, err := h.orders.UpdateStatus(ctx, id, status)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeOrder(e, *o) })
}

func (h *Handler) adminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.orders.Stats(ctx)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("summary", func(e *jx.Encoder) { encodeSummary(e, s.Summary) })
			e.Field("top_customers", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, c := range s.TopCustomers {
						e.Obj(func(e *jx.Encoder) {
							e.Field("user_id", func(e *jx.Encoder) { e.Int64(c.UserID) })
							e.Field("revenue", func(e *jx.Encoder) { money(e, c.Revenue) })
						})
					}
				})
			})
			e.Field("first_time_customers", func(e *jx.Encoder) { e.Int(s.FirstTimeCustomers) })
			e.Field("first_time_orders", func(e *jx.Encoder) { e.Int(s.FirstTimeOrders) })
			e.Field("first_time_discount", func(e *jx.Encoder) { money(e, s.FirstTimeDiscount) })
		})
	})
}
