// Package ebay provides a client for the eBay Browse and Marketplace
// Insights APIs, covering active listings and sold-item comps.
package ebay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when a search matches nothing.
var ErrNotFound = eris.New("ebay: not found")

// StatusError reports a non-2xx search response. Callers can inspect the
// status code to decide whether a retry is worth it.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ebay: status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Client defines the marketplace search operations.
type Client interface {
	// SearchListings returns active listings matching the query.
	SearchListings(ctx context.Context, query string, limit int) ([]Listing, error)
	// SearchSold returns recently sold items matching the query.
	SearchSold(ctx context.Context, query string, limit int) ([]SoldItem, error)
}

// Money is an eBay money amount; values come over the wire as strings.
type Money struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Amount parses the money value, returning 0 for empty or malformed values.
func (m Money) Amount() float64 {
	if m.Value == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m.Value, 64)
	if err != nil {
		return 0
	}
	return v
}

// ShippingOption is one shipping offer on a listing.
type ShippingOption struct {
	ShippingCost Money `json:"shippingCost"`
}

// Listing is an active item summary.
type Listing struct {
	ItemID          string           `json:"itemId"`
	Title           string           `json:"title"`
	Price           Money            `json:"price"`
	ShippingOptions []ShippingOption `json:"shippingOptions"`
	Condition       string           `json:"condition"`
	ItemWebURL      string           `json:"itemWebUrl"`
}

// ShippingAmount is the cheapest shipping offer, or 0 when the listing has
// none (free or local pickup).
func (l Listing) ShippingAmount() float64 {
	var best float64
	for i, opt := range l.ShippingOptions {
		cost := opt.ShippingCost.Amount()
		if i == 0 || cost < best {
			best = cost
		}
	}
	return best
}

// SoldItem is a completed sale record.
type SoldItem struct {
	ItemID        string `json:"itemId"`
	Title         string `json:"title"`
	LastSoldPrice Money  `json:"lastSoldPrice"`
	Condition     string `json:"condition"`
}

type browseResponse struct {
	ItemSummaries []Listing `json:"itemSummaries"`
	Total         int       `json:"total"`
}

type soldResponse struct {
	ItemSales []SoldItem `json:"itemSales"`
	Total     int        `json:"total"`
}

// Option configures the eBay client.
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

// WithMarketplace sets the X-EBAY-C-MARKETPLACE-ID header value.
func WithMarketplace(id string) Option {
	return func(c *httpClient) {
		c.marketplace = id
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	token       string
	baseURL     string
	marketplace string
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a new eBay search client using an OAuth application
// token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:       token,
		baseURL:     "https://api.ebay.com",
		marketplace: "EBAY_US",
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
			return nil, resp.StatusCode, eris.Wrap(readErr, "ebay: read response body")
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

func (c *httpClient) newSearchRequest(ctx context.Context, path, query string, limit int) (*http.Request, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ebay: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.marketplace)
	return req, nil
}

func (c *httpClient) SearchListings(ctx context.Context, query string, limit int) ([]Listing, error) {
	req, err := c.newSearchRequest(ctx, "/buy/browse/v1/item_summary/search", query, limit)
	if err != nil {
		return nil, err
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "ebay: search failed")
	}
	if statusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: statusCode, Body: string(body)}
	}

	var result browseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "ebay: unmarshal search response")
	}
	return result.ItemSummaries, nil
}

func (c *httpClient) SearchSold(ctx context.Context, query string, limit int) ([]SoldItem, error) {
	req, err := c.newSearchRequest(ctx, "/buy/marketplace_insights/v1_beta/item_sales/search", query, limit)
	if err != nil {
		return nil, err
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "ebay: sold search failed")
	}
	// The insights API answers 404 for queries with no completed sales.
	if statusCode == http.StatusNotFound {
		return nil, nil
	}
	if statusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: statusCode, Body: string(body)}
	}

	var result soldResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "ebay: unmarshal sold response")
	}
	return result.ItemSales, nil
}
