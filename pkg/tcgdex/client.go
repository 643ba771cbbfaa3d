// Package tcgdex provides a client for the TCGdex card catalog API.
package tcgdex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the catalog has no entry for the requested
// card or set.
var ErrNotFound = eris.New("tcgdex: not found")

// StatusError reports a non-2xx catalog response that is not a plain miss.
// Callers can inspect the status code to decide whether a retry is worth it.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tcgdex: status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Client defines the TCGdex catalog operations.
type Client interface {
	// GetCard fetches a single card by set code and local number.
	GetCard(ctx context.Context, setCode, number, lang string) (*Card, error)
	// ListCards fetches the full card list of a set, used as a fallback when
	// the exact lookup misses on a number variant.
	ListCards(ctx context.Context, setCode, lang string) ([]CardBrief, error)
}

// Card is the full catalog record for a single printing.
type Card struct {
	ID      string  `json:"id"`
	LocalID string  `json:"localId"`
	Name    string  `json:"name"`
	Image   string  `json:"image"`
	Rarity  string  `json:"rarity"`
	Set     SetInfo `json:"set"`
}

// CardBrief is the abbreviated record returned in set listings.
type CardBrief struct {
	ID      string `json:"id"`
	LocalID string `json:"localId"`
	Name    string `json:"name"`
	Image   string `json:"image"`
}

// SetInfo identifies the set a card belongs to.
type SetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type setDetail struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Cards []CardBrief `json:"cards"`
}

// Option configures the TCGdex client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new TCGdex catalog client. The public API is unkeyed.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://api.tcgdex.net",
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// retryDo executes a GET with exponential backoff on transient failures.
// Returns the body and status code of the final response.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "tcgdex: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) GetCard(ctx context.Context, setCode, number, lang string) (*Card, error) {
	reqURL := fmt.Sprintf("%s/v2/%s/cards/%s-%s", c.baseURL, lang, setCode, number)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "tcgdex: create request")
	}
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "tcgdex: request failed")
	}

	if statusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if statusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: statusCode, Body: string(body)}
	}

	var card Card
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, eris.Wrap(err, "tcgdex: unmarshal card")
	}
	return &card, nil
}

func (c *httpClient) ListCards(ctx context.Context, setCode, lang string) ([]CardBrief, error) {
	reqURL := fmt.Sprintf("%s/v2/%s/sets/%s", c.baseURL, lang, setCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "tcgdex: create request")
	}
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "tcgdex: list request failed")
	}

	if statusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if statusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: statusCode, Body: string(body)}
	}

	var set setDetail
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, eris.Wrap(err, "tcgdex: unmarshal set")
	}
	return set.Cards, nil
}
