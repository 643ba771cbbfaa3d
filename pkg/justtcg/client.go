// Package justtcg provides a client for the JustTCG retail pricing API.
package justtcg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when no priced listing exists for the request.
var ErrNotFound = eris.New("justtcg: not found")

// StatusError reports a non-2xx pricing response that is not a plain miss.
// Callers can inspect the status code to decide whether a retry is worth it.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("justtcg: status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Client defines the JustTCG pricing operations.
type Client interface {
	// ListPrices returns per-variant retail prices for a card number within a
	// set. Multiple results can come back when a number matches several
	// printings.
	ListPrices(ctx context.Context, setCode, number string) ([]CardPrices, error)
	// GetQuote summarizes the variant prices of a card into a low/mid/high
	// quote. Returns ErrNotFound when nothing is priced.
	GetQuote(ctx context.Context, setCode, number string) (*Quote, error)
}

// Variant is one condition/printing price point.
type Variant struct {
	Condition string  `json:"condition"`
	Printing  string  `json:"printing"`
	Price     float64 `json:"price"`
}

// CardPrices holds all priced variants for a single card.
type CardPrices struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Set      string    `json:"set"`
	Number   string    `json:"number"`
	Currency string    `json:"currency"`
	Variants []Variant `json:"variants"`
}

// Quote is a summarized low/mid/high over a card's priced variants.
type Quote struct {
	Low      float64 `json:"low"`
	Mid      float64 `json:"mid"`
	High     float64 `json:"high"`
	Currency string  `json:"currency"`
	Samples  int     `json:"samples"`
}

type listResponse struct {
	Data []CardPrices `json:"data"`
}

// Option configures the JustTCG client.
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
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new JustTCG pricing client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.justtcg.com",
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
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
			return nil, resp.StatusCode, eris.Wrap(readErr, "justtcg: read response body")
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

func (c *httpClient) ListPrices(ctx context.Context, setCode, number string) ([]CardPrices, error) {
	q := url.Values{}
	q.Set("set", setCode)
	q.Set("number", number)
	reqURL := fmt.Sprintf("%s/v1/cards?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "justtcg: create request")
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "justtcg: request failed")
	}

	if statusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if statusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: statusCode, Body: string(body)}
	}

	var result listResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "justtcg: unmarshal response")
	}
	return result.Data, nil
}

func (c *httpClient) GetQuote(ctx context.Context, setCode, number string) (*Quote, error) {
	cards, err := c.ListPrices(ctx, setCode, number)
	if err != nil {
		return nil, err
	}

	quote := &Quote{Currency: "USD"}
	for _, card := range cards {
		if card.Currency != "" {
			quote.Currency = card.Currency
		}
		for _, v := range card.Variants {
			if v.Price <= 0 {
				continue
			}
			if quote.Samples == 0 || v.Price < quote.Low {
				quote.Low = v.Price
			}
			if v.Price > quote.High {
				quote.High = v.Price
			}
			quote.Mid += v.Price
			quote.Samples++
		}
	}
	if quote.Samples == 0 {
		return nil, ErrNotFound
	}
	quote.Mid /= float64(quote.Samples)
	return quote, nil
}
