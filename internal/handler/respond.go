package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/washgo/delivery/internal/auth"
	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/payment"
	"github.com/washgo/delivery/internal/domain/pricing"
	"github.com/washgo/delivery/internal/domain/user"
)

const maxBodySize = 64 << 10

// badRequest is a malformed request: unreadable JSON or bad query values.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequest{msg: errors.Errorf(format, args...).Error()}
}

var (
	errUnauthenticated = errors.New("authentication required")
	errForbidden       = errors.New("administrator access required")
)

// errorCode maps err to an HTTP status and a stable machine-readable code.
func errorCode(err error) (int, string) {
	var (
		finalization *payment.FinalizationError
		provider     *payment.ProviderError
		validation   *user.ValidationError
		malformed    *badRequest
	)
	switch {
	case errors.As(err, &finalization):
		return http.StatusInternalServerError, "order_finalization_failed"
	case errors.As(err, &provider):
		return http.StatusBadGateway, "payment_provider_error"
	case errors.As(err, &malformed):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, user.ErrPasswordMismatch):
		return http.StatusUnprocessableEntity, "password_mismatch"
	case errors.Is(err, pricing.ErrNegativeInput),
		errors.Is(err, pricing.ErrInputTooLarge),
		errors.Is(err, payment.ErrInvalidCheckout):
		return http.StatusUnprocessableEntity, "invalid_order"
	case errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, order.ErrStatusNotSettable):
		return http.StatusUnprocessableEntity, "invalid_status"
	case errors.Is(err, user.ErrUsernameTaken):
		return http.StatusConflict, "username_taken"
	case errors.Is(err, user.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, payment.ErrSessionMismatch):
		return http.StatusConflict, "session_mismatch"
	case errors.Is(err, payment.ErrAmountMismatch):
		return http.StatusConflict, "amount_mismatch"
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, order.ErrStatusConflict):
		return http.StatusConflict, "status_conflict"
	case errors.Is(err, payment.ErrNotPaid):
		return http.StatusPaymentRequired, "payment_not_completed"
	case errors.Is(err, user.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// fail writes err as an error response. Server errors are logged and their
// details hidden from the client.
func fail(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	lg := zctx.From(ctx)
	msg := err.Error()
	switch {
	case code == "order_finalization_failed":
		lg.Error("Order finalization failed", zap.Error(err))
		msg = "payment was received but the order could not be recorded; please contact support"
	case code == "session_mismatch":
		lg.Warn("Checkout session mismatch", zap.Error(err))
	case code == "payment_provider_error":
		lg.Error("Payment provider error", zap.Error(err))
		msg = "payment provider is unavailable, please try again"
	case status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// fieldDecoders maps JSON keys to decoders. Unknown keys are skipped.
type fieldDecoders map[string]func(d *jx.Decoder) error

func decodeBody(r *http.Request, fields fieldDecoders) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(body) > maxBodySize {
		return badRequestf("request body too large")
	}
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if f, ok := fields[string(key)]; ok {
			if err := f(d); err != nil {
				return errors.Wrap(err, string(key))
			}
			return nil
		}
		return d.Skip()
	}); err != nil {
		return badRequestf("invalid JSON body: %v", err)
	}
	return nil
}

func strField(dst *string) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		s, err := d.Str()
		*dst = s
		return err
	}
}

func intField(dst *int) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		v, err := d.Int()
		*dst = v
		return err
	}
}

// decimalField accepts a JSON number or a numeric string.
func decimalField(dst *decimal.Decimal) func(d *jx.Decoder) error {
	return func(d *jx.Decoder) error {
		var raw string
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			raw = s
		default:
			n, err := d.Num()
			if err != nil {
				return err
			}
			raw = n.String()
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequestf("%s must be an integer", key)
	}
	return v, nil
}

func queryDecimal(r *http.Request, key string) (decimal.NullDecimal, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, badRequestf("%s must be a number", key)
	}
	return decimal.NewNullDecimal(v), nil
}

func queryDate(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, badRequestf("%s must be a YYYY-MM-DD date", key)
	}
	return t, nil
}
