// Package handler implements the JSON HTTP API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/washgo/delivery/internal/auth"
	"github.com/washgo/delivery/internal/domain/address"
	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/payment"
	"github.com/washgo/delivery/internal/domain/pricing"
	"github.com/washgo/delivery/internal/domain/user"
)

// Users is the account service.
type Users interface {
	Register(ctx context.Context, r user.Registration) (*user.User, error)
	Authenticate(ctx context.Context, username, password string) (*user.User, error)
	Get(ctx context.Context, id int64) (*user.User, error)
}

// Orders is the order query and admin service.
type Orders interface {
	Recent(ctx context.Context, userID int64) ([]order.Order, error)
	History(ctx context.Context, userID int64) (*order.History, error)
	List(ctx context.Context, f order.Filter) ([]order.Order, error)
	Estimate(o order.Order) order.DeliveryEstimate
	UpdateStatus(ctx context.Context, id int64, raw string) (*order.Order, error)
	Stats(ctx context.Context) (*order.Stats, error)
}

// Payments is the checkout service.
type Payments interface {
	Quote(ctx context.Context, userID int64, weight decimal.Decimal, blankets, pillows int) (pricing.Breakdown, error)
	Checkout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutResult, error)
	Confirm(ctx context.Context, sessionID string, userID int64) (*payment.Result, error)
	ConfirmCompleted(ctx context.Context, sessionID string) (*payment.Result, error)
}

// Addresses suggests street addresses.
type Addresses interface {
	Suggest(ctx context.Context, input string) address.Suggestions
}

// Tokens issues and verifies bearer tokens.
type Tokens interface {
	Issue(p auth.Principal) (string, time.Time, error)
	Parse(token string) (auth.Principal, error)
}

// EventParser verifies provider webhook payloads.
type EventParser interface {
	ParseEvent(payload []byte, signature string) (*payment.Event, error)
}

// Handler serves the API.
type Handler struct {
	users     Users
	orders    Orders
	payments  Payments
	addresses Addresses
	tokens    Tokens
	events    EventParser
}

// New creates a Handler.
func New(users Users, orders Orders, payments Payments, addresses Addresses, tokens Tokens, events EventParser) *Handler {
	return &Handler{
		users:     users,
		orders:    orders,
		payments:  payments,
		addresses: addresses,
		tokens:    tokens,
		events:    events,
	}
}

// Mount registers the API routes under /api.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Get("/quote", h.quote)
		r.Get("/address/suggest", h.suggestAddress)
		r.Post("/payments/webhook", h.webhook)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/me", h.me)
			r.Post("/checkout", h.checkout)
			r.Get("/payments/confirm", h.confirm)
			r.Get("/orders", h.history)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireUser, h.requireAdmin)
			r.Get("/orders", h.adminOrders)
			r.Put("/orders/{id}/status", h.adminUpdateStatus)
			r.Get("/stats", h.adminStats)
		})
	})
}

// Router returns a chi router with the API mounted. Extra routes, such as
// health probes, can be added by the caller.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	h.Mount(r)
	return r
}
