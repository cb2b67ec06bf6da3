// Package places is a Google Places Autocomplete client.
package places

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/washgo/delivery/internal/domain/address"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/place/autocomplete/json"

var _ address.Provider = (*Client)(nil)

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client queries the autocomplete endpoint for street addresses.
type Client struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
	}
}

// Suggest returns prediction descriptions for the input.
func (c *Client) Suggest(ctx context.Context, input string) ([]string, error) {
	q := url.Values{}
	q.Set("input", input)
	q.Set("key", c.apiKey)
	q.Set("types", "address")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "autocomplete")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("autocomplete: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	return decodePredictions(body)
}

// decodePredictions extracts predictions[].description. Statuses other than
// OK and ZERO_RESULTS are errors.
func decodePredictions(body []byte) ([]string, error) {
	var (
		status       string
		errorMessage string
		out          = []string{}
	)
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			s, err := d.Str()
			status = s
			return err
		case "error_message":
			s, err := d.Str()
			errorMessage = s
			return err
		case "predictions":
			return d.Arr(func(d *jx.Decoder) error {
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					if string(key) != "description" {
						return d.Skip()
					}
					s, err := d.Str()
					if err != nil {
						return err
					}
					out = append(out, s)
					return nil
				})
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode predictions")
	}

	switch status {
	case "OK", "ZERO_RESULTS":
		return out, nil
	default:
		return nil, errors.Errorf("autocomplete status %s: %s", status, errorMessage)
	}
}
