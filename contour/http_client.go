package contour

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultFetchTimeout bounds a single station API request.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// Station payloads larger than this are truncated and fail to decode.
	maxResponseBytes = 50 << 20
)

// FetchOption configures FetchObservations.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.timeout = d }
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) { c.maxRetries = n }
}

// WithBaseBackoff sets the delay before the second attempt. Each later
// attempt waits twice as long as the one before.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.baseBackoff = d }
}

// WithHTTPClient replaces the default client. WithTimeout is then ignored.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) { c.client = client }
}

func (c fetchConfig) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries-1)), ctx)
}

// FetchObservations downloads an observation payload from a station API and
// decodes it with DecodeObservations. Network failures and non-200 responses
// are retried with exponential backoff; a payload that fails to decode is not.
func FetchObservations(ctx context.Context, apiURL string, opts ...FetchOption) ([]Observation, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch observations: API URL is empty")
	}

	cfg := fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.maxRetries = max(cfg.maxRetries, 1)

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	attempts := 0
	var decodeErr error
	obs, err := backoff.RetryWithData(func() ([]Observation, error) {
		attempts++
		body, err := doFetch(ctx, client, apiURL)
		if err != nil {
			return nil, err
		}
		obs, err := DecodeObservations(body)
		if err != nil {
			decodeErr = err
			return nil, backoff.Permanent(err)
		}
		return obs, nil
	}, cfg.policy(ctx))

	switch {
	case err == nil:
		return obs, nil
	case decodeErr != nil:
		return nil, fmt.Errorf("fetch observations: %w", decodeErr)
	case ctx.Err() != nil && !errors.Is(err, ctx.Err()):
		return nil, fmt.Errorf("fetch observations: %w (last error: %v)", ctx.Err(), err)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("fetch observations: %w", err)
	}
	return nil, fmt.Errorf("fetch observations: all %d attempts failed: %w", attempts, err)
}

// doFetch performs one GET and returns the body.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json, application/geo+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return body, nil
}
