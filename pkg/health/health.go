// Package health serves liveness and readiness probes.
//
// Every probe runs on its own ticker. A probe flips to failing only after
// FailureThreshold consecutive errors and back to passing after
// SuccessThreshold consecutive successes, so a single slow ping does not
// take the service out of rotation.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a probe contributes to.
type Kind uint8

const (
	Liveness Kind = iota
	Readiness
)

// Option customizes a probe.
type Option func(*probe)

// WithThresholds sets the consecutive failure and success counts needed to
// change a probe's state.
func WithThresholds(failures, successes int) Option {
	return func(p *probe) {
		if failures > 0 {
			p.failureThreshold = failures
		}
		if successes > 0 {
			p.successThreshold = successes
		}
	}
}

type probe struct {
	name             string
	kind             Kind
	timeout          time.Duration
	check            CheckFunc
	failureThreshold int
	successThreshold int

	mu        sync.Mutex
	passing   bool
	lastErr   error
	checkedAt time.Time
	fails     int
	oks       int
}

type probeState struct {
	name      string
	passing   bool
	err       error
	checkedAt time.Time
}

func (p *probe) state() probeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return probeState{name: p.name, passing: p.passing, err: p.lastErr, checkedAt: p.checkedAt}
}

func (p *probe) run(ctx context.Context, now time.Time) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(checkCtx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	p.checkedAt = now
	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.failureThreshold {
			p.passing = false
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= p.successThreshold {
		p.passing = true
	}
}

// Health tracks probes and the manual readiness gate.
type Health struct {
	ready atomic.Bool
	now   func() time.Time

	mu     sync.RWMutex
	probes []*probe
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{now: time.Now}
}

// Add registers a probe. Probes start passing.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	p := &probe{
		name:             name,
		kind:             kind,
		timeout:          timeout,
		check:            check,
		failureThreshold: 3,
		successThreshold: 1,
		passing:          true,
	}
	for _, o := range opts {
		o(p)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, p)
}

// AddLivenessCheck registers a liveness probe.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	h.Add(Liveness, name, timeout, check, opts...)
}

// AddReadinessCheck registers a readiness probe.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	h.Add(Readiness, name, timeout, check, opts...)
}

func (h *Health) snapshot(kind Kind) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*probe
	for _, p := range h.probes {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// Run executes every probe at interval until ctx is done.
func (h *Health) Run(ctx context.Context, interval time.Duration) error {
	h.mu.RLock()
	probes := append([]*probe(nil), h.probes...)
	h.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range probes {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			p.run(ctx, h.now())
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					p.run(ctx, h.now())
				}
			}
		})
	}
	return g.Wait()
}

// SetReady opens or closes the readiness gate.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness probe passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(Readiness) {
		if !p.state().passing {
			return false
		}
	}
	return true
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeProbes(w, collect(h.snapshot(Liveness)), "")
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	reason := ""
	if !h.ready.Load() {
		reason = "service is not ready"
	}
	writeProbes(w, collect(h.snapshot(Readiness)), reason)
}

func collect(probes []*probe) []probeState {
	out := make([]probeState, 0, len(probes))
	for _, p := range probes {
		out = append(out, p.state())
	}
	return out
}

// writeProbes writes {"status":..., "reason":..., "checks":[...]}. The status
// is 503 if reason is set or any probe is failing.
func writeProbes(w http.ResponseWriter, states []probeState, reason string) {
	healthy := reason == ""
	for _, s := range states {
		healthy = healthy && s.passing
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) {
			if healthy {
				e.Str("ok")
			} else {
				e.Str("unhealthy")
			}
		})
		if reason != "" {
			e.Field("reason", func(e *jx.Encoder) { e.Str(reason) })
		}
		if len(states) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range states {
					encodeState(e, s)
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(e.Bytes())
}

func encodeState(e *jx.Encoder, s probeState) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(s.name) })
		e.Field("passing", func(e *jx.Encoder) { e.Bool(s.passing) })
		if s.err != nil {
			e.Field("error", func(e *jx.Encoder) { e.Str(s.err.Error()) })
		}
		if !s.checkedAt.IsZero() {
			e.Field("checked_at", func(e *jx.Encoder) { e.Str(s.checkedAt.UTC().Format(time.RFC3339)) })
		}
	})
}
