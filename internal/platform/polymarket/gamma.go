package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/polysweep/sweepmon/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides event and market metadata lookups by slug.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Resolve looks up an event by slug and returns its market metadata.
// Returns an error wrapping domain.ErrNotFound when no event exists for
// the slug, which is the normal case before a window's market is listed.
func (g *GammaClient) Resolve(ctx context.Context, slug string) (domain.MarketMeta, error) {
	event, err := g.GetEventBySlug(ctx, slug)
	if err != nil {
		return domain.MarketMeta{}, err
	}
	if len(event.Markets) == 0 {
		return domain.MarketMeta{}, fmt.Errorf("polymarket/gamma: %w: event %s has no markets", domain.ErrNotFound, slug)
	}
	return event.ToMarketMeta(slug), nil
}

// GetEventBySlug returns a single event looked up by its URL slug.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	path := fmt.Sprintf("/events/slug/%s", url.PathEscape(slug))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event by slug %s: %w", slug, err)
	}

	var event APIEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode event: %w", err)
	}

	return event, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
