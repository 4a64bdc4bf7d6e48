// Package trials wraps the ClinicalTrials.gov API v2. No authentication is
// required; the public rate limit is roughly 10 requests per second.
package trials

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

	lru "github.com/hashicorp/golang-lru/v2"

	"compass/internal/agent/ports"
	"compass/internal/session"
	"compass/internal/shared/logging"
)

const (
	defaultBaseURL = "https://clinicaltrials.gov/api/v2"
	milesToKM      = 1.60934
	maxPageSize    = 100

	// Full study records are reused across detail, eligibility, and location
	// lookups within a session's matching phase.
	studyCacheSize = 64
)

// Client implements ports.TrialRegistry against ClinicalTrials.gov.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	studyCache *lru.Cache[string, *study]
}

var _ ports.TrialRegistry = (*Client)(nil)

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

// NewClient builds a registry client.
func NewClient(logger logging.Logger, opts ...Option) *Client {
	cache, _ := lru.New[string, *study](studyCacheSize)
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.OrNop(logger),
		studyCache: cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search queries the registry. Results are filtered by keyword overlap with
// the requested condition so tangential indexed studies drop out.
func (c *Client) Search(ctx context.Context, q ports.TrialSearchQuery) ([]session.TrialSummary, error) {
	if strings.TrimSpace(q.Condition) == "" {
		return nil, fmt.Errorf("search: condition is required")
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}

	params := url.Values{}
	params.Set("query.cond", q.Condition)
	params.Set("format", "json")
	if q.Intervention != "" {
		params.Set("query.intr", q.Intervention)
	}

	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = []string{"RECRUITING"}
	}
	params.Set("filter.overallStatus", strings.Join(statuses, ","))

	// The v2 API has no filter.phase; phases go through filter.advanced.
	if len(q.Phases) > 0 {
		params.Set("filter.advanced", fmt.Sprintf("AREA[Phase](%s)", strings.Join(q.Phases, " OR ")))
	}

	if q.Latitude != nil && q.Longitude != nil {
		radius := q.DistanceMiles
		if radius <= 0 {
			radius = 100
		}
		params.Set("filter.geo", fmt.Sprintf("distance(%v,%v,%.1fkm)", *q.Latitude, *q.Longitude, radius*milesToKM))
	}

	pageSize := maxResults
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	params.Set("pageSize", strconv.Itoa(pageSize))

	var out []session.TrialSummary
	for len(out) < maxResults {
		var page struct {
			Studies       []study `json:"studies"`
			NextPageToken string  `json:"nextPageToken"`
		}
		if err := c.get(ctx, "/studies", params, &page); err != nil {
			return nil, err
		}
		if len(page.Studies) == 0 {
			break
		}
		for i := range page.Studies {
			if len(out) >= maxResults {
				break
			}
			summary := page.Studies[i].summary()
			if conditionMatches(summary.Conditions, q.Condition) {
				out = append(out, summary)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		params.Set("pageToken", page.NextPageToken)
		remaining := maxResults - len(out)
		if remaining < maxPageSize {
			params.Set("pageSize", strconv.Itoa(remaining))
		}
	}

	c.logger.Info("Trial search: condition=%q results=%d", q.Condition, len(out))
	return out, nil
}

// Detail fetches one study record.
func (c *Client) Detail(ctx context.Context, nctID string) (*ports.TrialDetail, error) {
	st, err := c.study(ctx, nctID)
	if err != nil {
		return nil, err
	}
	return st.detail(), nil
}

// Eligibility fetches and parses the study's eligibility criteria.
func (c *Client) Eligibility(ctx context.Context, nctID string) (*ports.EligibilityCriteria, error) {
	st, err := c.study(ctx, nctID)
	if err != nil {
		return nil, err
	}
	elig := st.ProtocolSection.EligibilityModule
	inclusion, exclusion := ParseCriteriaText(elig.EligibilityCriteria)
	return &ports.EligibilityCriteria{
		NCTID:          nctID,
		RawText:        elig.EligibilityCriteria,
		Inclusion:      inclusion,
		Exclusion:      exclusion,
		MinAge:         elig.MinimumAge,
		MaxAge:         elig.MaximumAge,
		Sex:            elig.Sex,
		AcceptsHealthy: elig.HealthyVolunteers,
	}, nil
}

// Locations fetches the study's site list.
func (c *Client) Locations(ctx context.Context, nctID string) ([]session.TrialLocation, error) {
	st, err := c.study(ctx, nctID)
	if err != nil {
		return nil, err
	}
	return st.locations(), nil
}

func (c *Client) study(ctx context.Context, nctID string) (*study, error) {
	nctID = strings.ToUpper(strings.TrimSpace(nctID))
	if nctID == "" {
		return nil, fmt.Errorf("nct_id is required")
	}
	if cached, ok := c.studyCache.Get(nctID); ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("format", "json")
	var st study
	if err := c.get(ctx, "/studies/"+nctID, params, &st); err != nil {
		return nil, err
	}
	c.studyCache.Add(nctID, &st)
	return &st, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clinicaltrials.gov request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("clinicaltrials.gov: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clinicaltrials.gov: decode response: %w", err)
	}
	return nil
}

// conditionMatches checks keyword overlap between the searched condition and a
// trial's indexed conditions. Each significant query word (3+ chars) must
// appear somewhere in the trial's condition strings. Trials with no conditions
// listed pass through.
func conditionMatches(trialConditions []string, queryCondition string) bool {
	if len(trialConditions) == 0 {
		return true
	}
	var b strings.Builder
	for _, cond := range trialConditions {
		b.WriteString(strings.ToLower(cond))
		b.WriteString(" ")
	}
	conditionsText := b.String()

	for _, word := range strings.Fields(strings.ToLower(queryCondition)) {
		if len(word) < 3 {
			continue
		}
		if !strings.Contains(conditionsText, word) {
			return false
		}
	}
	return true
}
