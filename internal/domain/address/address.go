// Package address provides pickup address autocomplete.
package address

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	// MinInputLength is the shortest input sent to the provider.
	MinInputLength = 3
	defaultTTL     = 24 * time.Hour
	keyPrefix      = "address:suggest:"
)

// Provider returns address predictions for free-form input.
type Provider interface {
	Suggest(ctx context.Context, input string) ([]string, error)
}

// Cache stores encoded suggestion lists.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Suggestions is the result of a lookup.
type Suggestions struct {
	Items []string
	// Degraded is set when the provider failed; clients should accept
	// free-text addresses.
	Degraded bool
}

// Service looks up address suggestions.
type Service struct {
	provider Provider
	cache    Cache
	ttl      time.Duration
}

// NewService creates a Service. cache may be nil; ttl of zero means one day.
func NewService(provider Provider, cache Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{provider: provider, cache: cache, ttl: ttl}
}

// Suggest returns suggestions for the input. It never fails: provider errors
// yield an empty, degraded result.
func (s *Service) Suggest(ctx context.Context, input string) Suggestions {
	input = strings.TrimSpace(input)
	if utf8.RuneCountInString(input) < MinInputLength {
		return Suggestions{}
	}
	lg := zctx.From(ctx)
	key := keyPrefix + strings.ToLower(strings.Join(strings.Fields(input), " "))

	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			lg.Warn("Address cache get", zap.Error(err))
		case ok:
			items, err := decodeItems(raw)
			if err == nil {
				return Suggestions{Items: items}
			}
			lg.Warn("Address cache decode", zap.Error(err))
		}
	}

	if s.provider == nil {
		return Suggestions{Degraded: true}
	}
	items, err := s.provider.Suggest(ctx, input)
	if err != nil {
		lg.Warn("Address provider failed", zap.Error(err))
		return Suggestions{Degraded: true}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, encodeItems(items), s.ttl); err != nil {
			lg.Warn("Address cache set", zap.Error(err))
		}
	}
	return Suggestions{Items: items}
}

func encodeItems(items []string) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range items {
		e.Str(it)
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeItems(raw []byte) ([]string, error) {
	items := []string{}
	if err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		items = append(items, s)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode suggestions")
	}
	return items, nil
}
