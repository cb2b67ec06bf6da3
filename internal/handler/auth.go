package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/washgo/delivery/internal/auth"
	"github.com/washgo/delivery/internal/domain/user"
)

// authenticate resolves an optional bearer token into a principal. A present
// but invalid token is rejected rather than treated as anonymous.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			fail(r.Context(), w, auth.ErrInvalidToken)
			return
		}
		p, err := h.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			fail(r.Context(), w, err)
			return
		}
		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.Int64("user_id", p.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); !ok {
			fail(r.Context(), w, errUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin checks the token claim and then the stored account, so a
// demoted administrator loses access before the token expires.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p, _ := auth.FromContext(ctx)
		if !p.Admin {
			fail(ctx, w, errForbidden)
			return
		}
		u, err := h.users.Get(ctx, p.UserID)
		switch {
		case errors.Is(err, user.ErrNotFound):
			fail(ctx, w, errForbidden)
			return
		case err != nil:
			fail(ctx, w, err)
			return
		case !u.IsAdmin:
			zctx.From(ctx).Warn("Admin claim revoked", zap.Int64("user_id", u.ID))
			fail(ctx, w, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principal returns the authenticated caller. Routes behind requireUser
// always have one.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, u *user.User) error {
	token, expires, err := h.tokens.Issue(auth.Principal{UserID: u.ID, Username: u.Username, Admin: u.IsAdmin})
	if err != nil {
		return err
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("token", func(e *jx.Encoder) { e.Str(token) })
			e.Field("expires_at", func(e *jx.Encoder) { e.Str(expires.UTC().Format(time.RFC3339)) })
			e.Field("user", func(e *jx.Encoder) { encodeUser(e, u) })
		})
	})
	return nil
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var reg user.Registration
	if err := decodeBody(r, fieldDecoders{
		"username":         strField(&reg.Username),
		"password":         strField(&reg.Password),
		"confirm_password": strField(&reg.ConfirmPassword),
		"email":            strField(&reg.Email),
		"phone":            strField(&reg.Phone),
	}); err != nil {
		fail(r.Context(), w, err)
		return
	}

	u, err := h.users.Register(r.Context(), reg)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	if err := h.writeSession(w, http.StatusCreated, u); err != nil {
		fail(r.Context(), w, err)
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var username, password string
	if err := decodeBody(r, fieldDecoders{
		"username": strField(&username),
		"password": strField(&password),
	}); err != nil {
		fail(r.Context(), w, err)
		return
	}

	u, err := h.users.Authenticate(r.Context(), username, password)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	if err := h.writeSession(w, http.StatusOK, u); err != nil {
		fail(r.Context(), w, err)
	}
}

// me is the customer dashboard: profile, recent orders and discount
// eligibility.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal(r)

	u, err := h.users.Get(ctx, p.UserID)
	if err != nil {
		fail(ctx, w, err)
		return
	}
	recent, err := h.orders.Recent(ctx, p.UserID)
	if err != nil {
		fail(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("user", func(e *jx.Encoder) { encodeUser(e, u) })
			e.Field("first_time_discount_eligible", func(e *jx.Encoder) { e.Bool(u.FirstTime) })
			e.Field("recent_orders", func(e *jx.Encoder) { h.encodeOrders(e, recent) })
		})
	})
}
