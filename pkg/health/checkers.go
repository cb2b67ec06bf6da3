package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is implemented by connection pools and clients with a round-trip
// health call.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the result of p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// ConnectedCheck fails while connected reports false. It suits clients that
// reconnect in the background and expose their connection state.
func ConnectedCheck(connected func() bool) CheckFunc {
	return func(_ context.Context) error {
		if !connected() {
			return errors.New("not connected")
		}
		return nil
	}
}

// GoroutineCountCheck fails when the goroutine count exceeds threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
