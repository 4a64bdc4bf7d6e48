// Package geo resolves locations to coordinates and computes great-circle
// distances. Forward geocoding uses the Open-Meteo geocoding API; reverse
// geocoding uses Nominatim. Neither requires authentication.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"compass/internal/agent/ports"
	"compass/internal/shared/logging"
)

const (
	defaultForwardBaseURL = "https://geocoding-api.open-meteo.com/v1"
	defaultReverseBaseURL = "https://nominatim.openstreetmap.org"

	// Nominatim's usage policy requires an identifying User-Agent.
	userAgent = "CompassTrialNavigator/1.0"
)

// Client implements ports.Geocoder.
type Client struct {
	forwardBaseURL string
	reverseBaseURL string
	httpClient     *http.Client
	logger         logging.Logger
}

var _ ports.Geocoder = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithForwardBaseURL overrides the forward-geocoding endpoint, for tests.
func WithForwardBaseURL(baseURL string) Option {
	return func(c *Client) { c.forwardBaseURL = strings.TrimRight(baseURL, "/") }
}

// WithReverseBaseURL overrides the reverse-geocoding endpoint, for tests.
func WithReverseBaseURL(baseURL string) Option {
	return func(c *Client) { c.reverseBaseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient builds a geocoding client.
func NewClient(logger logging.Logger, opts ...Option) *Client {
	c := &Client{
		forwardBaseURL: defaultForwardBaseURL,
		reverseBaseURL: defaultReverseBaseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Forward resolves a free-text location to coordinates. A miss returns
// (nil, nil). The full query is tried first; when it contains a comma, the
// part before the comma is retried, since the upstream matches bare place
// names best.
func (c *Client) Forward(ctx context.Context, locationString string) (*ports.GeocodeResult, error) {
	queries := []string{locationString}
	if cityPart := strings.TrimSpace(strings.SplitN(locationString, ",", 2)[0]); cityPart != strings.TrimSpace(locationString) {
		queries = append(queries, cityPart)
	}

	for _, query := range queries {
		params := url.Values{}
		params.Set("name", query)
		params.Set("count", "5")
		params.Set("language", "en")
		params.Set("format", "json")

		var payload struct {
			Results []struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
				Name      string  `json:"name"`
				Country   string  `json:"country"`
				Admin1    string  `json:"admin1"`
			} `json:"results"`
		}
		if err := c.get(ctx, c.forwardBaseURL+"/search?"+params.Encode(), &payload); err != nil {
			return nil, err
		}
		if len(payload.Results) == 0 {
			continue
		}

		hit := payload.Results[0]
		display := hit.Name
		if hit.Admin1 != "" {
			display += ", " + hit.Admin1
		}
		return &ports.GeocodeResult{
			Latitude:    hit.Latitude,
			Longitude:   hit.Longitude,
			Name:        hit.Name,
			AdminRegion: hit.Admin1,
			Display:     display,
		}, nil
	}

	c.logger.Info("No geocoding results for query=%q", locationString)
	return nil, nil
}

// Reverse resolves coordinates to a place name. A miss returns (nil, nil).
func (c *Client) Reverse(ctx context.Context, latitude, longitude float64) (*ports.ReverseResult, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%v", latitude))
	params.Set("lon", fmt.Sprintf("%v", longitude))
	params.Set("format", "json")
	params.Set("zoom", "10")

	var payload struct {
		Address struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
			County  string `json:"county"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"address"`
	}
	if err := c.get(ctx, c.reverseBaseURL+"/reverse?"+params.Encode(), &payload); err != nil {
		return nil, err
	}

	addr := payload.Address
	city := firstNonEmpty(addr.City, addr.Town, addr.Village, addr.County)
	if city == "" && addr.State == "" && addr.Country == "" {
		return nil, nil
	}

	var parts []string
	for _, p := range []string{city, addr.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	display := strings.Join(parts, ", ")
	if display == "" {
		display = addr.Country
	}

	return &ports.ReverseResult{
		City:    city,
		Region:  addr.State,
		Country: addr.Country,
		Display: display,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("geocoding request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("geocoding: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("geocoding: decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
