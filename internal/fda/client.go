// Package fda wraps the openFDA public API for adverse event counts and drug
// label sections. An API key is optional and only raises rate limits.
package fda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"compass/internal/agent/ports"
	"compass/internal/shared/logging"
)

const defaultBaseURL = "https://api.fda.gov"

// Client implements ports.DrugData against openFDA.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

var _ ports.DrugData = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient builds an openFDA client. apiKey may be empty.
func NewClient(apiKey string, logger logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AdverseEvents returns the most commonly reported reaction terms for a drug,
// ranked by report count. A drug with no reports yields an empty slice, not an
// error; openFDA signals "no data" with a 404.
func (c *Client) AdverseEvents(ctx context.Context, drugName string, limit int) ([]ports.AdverseEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{}
	params.Set("search", fmt.Sprintf("patient.drug.openfda.generic_name:%q", drugName))
	params.Set("count", "patient.reaction.reactionmeddrapt.exact")
	params.Set("limit", strconv.Itoa(limit))

	var payload struct {
		Results []struct {
			Term  string `json:"term"`
			Count int    `json:"count"`
		} `json:"results"`
	}
	found, err := c.get(ctx, "/drug/event.json", params, &payload)
	if err != nil {
		return nil, err
	}
	if !found {
		c.logger.Info("No adverse event data for drug=%q", drugName)
		return []ports.AdverseEvent{}, nil
	}

	events := make([]ports.AdverseEvent, 0, len(payload.Results))
	for _, r := range payload.Results {
		events = append(events, ports.AdverseEvent{Term: r.Term, Count: r.Count})
	}
	return events, nil
}

// Label returns the key label sections for a drug, or nil when no label
// exists. Each section arrives from openFDA as a list of paragraphs; they are
// joined into one string per section.
func (c *Client) Label(ctx context.Context, drugName string) (*ports.DrugLabel, error) {
	params := url.Values{}
	params.Set("search", fmt.Sprintf("openfda.generic_name:%q", drugName))
	params.Set("limit", "1")

	var payload struct {
		Results []struct {
			IndicationsAndUsage     []string `json:"indications_and_usage"`
			Warnings                []string `json:"warnings"`
			DosageAndAdministration []string `json:"dosage_and_administration"`
			AdverseReactions        []string `json:"adverse_reactions"`
		} `json:"results"`
	}
	found, err := c.get(ctx, "/drug/label.json", params, &payload)
	if err != nil {
		return nil, err
	}
	if !found || len(payload.Results) == 0 {
		c.logger.Info("No drug label for drug=%q", drugName)
		return nil, nil
	}

	label := payload.Results[0]
	return &ports.DrugLabel{
		DrugName:         drugName,
		Indications:      strings.Join(label.IndicationsAndUsage, "\n"),
		Warnings:         strings.Join(label.Warnings, "\n"),
		Dosage:           strings.Join(label.DosageAndAdministration, "\n"),
		AdverseReactions: strings.Join(label.AdverseReactions, "\n"),
	}, nil
}

// get performs a GET and decodes the body. The boolean result is false when
// openFDA returned 404, which it uses to mean "no matching records".
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) (bool, error) {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	endpoint := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("openfda request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("openfda: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("openfda: decode response: %w", err)
	}
	return true, nil
}
