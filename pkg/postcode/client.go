// Package postcode resolves UK postcodes to coordinates via the
// postcodes.io API.
package postcode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrNotFound marks a postcode the service does not know. Detect with
// errors.Is.
var ErrNotFound = errors.New("postcode not found")

// Client resolves postcodes to coordinates.
type Client interface {
	// Lookup resolves a single postcode.
	Lookup(ctx context.Context, postcode string) (*Result, error)
}

// Result holds the lookup output for a postcode.
type Result struct {
	Postcode      string  `json:"postcode"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	AdminDistrict string  `json:"admin_district"`
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(baseURL string) Option {
	return func(c *client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimit sets the requests-per-second rate limit.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a postcode Client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.postcodes.io",
		limiter:    rate.NewLimiter(10, 10), // postcodes.io is a free service; be polite
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lookupResponse is the postcodes.io envelope.
type lookupResponse struct {
	Status int `json:"status"`
	Result struct {
		Postcode      string  `json:"postcode"`
		Latitude      float64 `json:"latitude"`
		Longitude     float64 `json:"longitude"`
		AdminDistrict string  `json:"admin_district"`
	} `json:"result"`
}

// Lookup resolves a single postcode. An unknown postcode returns
// ErrNotFound; transport and server failures wrap the underlying error.
func (c *client) Lookup(ctx context.Context, postcode string) (*Result, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(postcode), ""))
	if normalized == "" {
		return nil, eris.New("postcode: empty postcode")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "postcode: rate limit")
	}

	reqURL := c.baseURL + "/postcodes/" + url.PathEscape(normalized)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, eris.Wrapf(ErrNotFound, "postcode: %s", normalized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("postcode: service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: read body")
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, eris.Wrap(err, "postcode: parse response")
	}

	return &Result{
		Postcode:      lr.Result.Postcode,
		Latitude:      lr.Result.Latitude,
		Longitude:     lr.Result.Longitude,
		AdminDistrict: lr.Result.AdminDistrict,
	}, nil
}
