package trials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compass/internal/agent/ports"
)

const studyJSON = `{
  "protocolSection": {
    "identificationModule": {"nctId": "NCT01234567", "briefTitle": "Melanoma Study", "officialTitle": "A Study of Melanoma"},
    "statusModule": {"overallStatus": "RECRUITING", "startDateStruct": {"date": "2025-01"}, "completionDateStruct": {"date": "2027-06"}},
    "descriptionModule": {"briefSummary": "Summary.", "detailedDescription": "Description."},
    "conditionsModule": {"conditions": ["Malignant Melanoma"]},
    "designModule": {"studyType": "INTERVENTIONAL", "phases": ["PHASE2", "PHASE3"], "enrollmentInfo": {"count": 120}},
    "armsInterventionsModule": {
      "armGroups": [{"label": "Arm A", "type": "EXPERIMENTAL", "description": "New drug"}],
      "interventions": [{"name": "Pembrolizumab"}]
    },
    "outcomesModule": {"primaryOutcomes": [{"measure": "Overall survival", "timeFrame": "24 months"}]},
    "eligibilityModule": {
      "eligibilityCriteria": "Inclusion Criteria:\n- Adults 18+\nExclusion Criteria:\n- Pregnancy",
      "minimumAge": "18 Years", "sex": "ALL", "healthyVolunteers": false
    },
    "sponsorCollaboratorsModule": {"leadSponsor": {"name": "Acme Oncology"}},
    "contactsLocationsModule": {"locations": [
      {"facility": "General Hospital", "city": "Boston", "state": "Massachusetts", "country": "United States",
       "status": "RECRUITING", "geoPoint": {"lat": 42.36, "lon": -71.06},
       "contacts": [{"name": "Study Team", "phone": "555-0100", "email": "team@example.org"}]}
    ]}
  }
}`

func TestSearchFiltersAndPaginates(t *testing.T) {
	var study map[string]any
	require.NoError(t, json.Unmarshal([]byte(studyJSON), &study))

	offTopic := map[string]any{
		"protocolSection": map[string]any{
			"identificationModule": map[string]any{"nctId": "NCT09999999", "briefTitle": "Arthritis Study"},
			"conditionsModule":     map[string]any{"conditions": []string{"Rheumatoid Arthritis"}},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies", r.URL.Path)
		assert.Equal(t, "melanoma", r.URL.Query().Get("query.cond"))
		assert.Equal(t, "RECRUITING", r.URL.Query().Get("filter.overallStatus"))
		assert.Equal(t, "AREA[Phase](PHASE2 OR PHASE3)", r.URL.Query().Get("filter.advanced"))
		assert.Contains(t, r.URL.Query().Get("filter.geo"), "distance(42.36,-71.06,")
		_ = json.NewEncoder(w).Encode(map[string]any{"studies": []any{study, offTopic}})
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	lat, lon := 42.36, -71.06
	results, err := client.Search(context.Background(), ports.TrialSearchQuery{
		Condition:     "melanoma",
		Phases:        []string{"PHASE2", "PHASE3"},
		Latitude:      &lat,
		Longitude:     &lon,
		DistanceMiles: 100,
		MaxResults:    10,
	})
	require.NoError(t, err)

	// The arthritis study fails the condition keyword filter.
	require.Len(t, results, 1)
	got := results[0]
	assert.Equal(t, "NCT01234567", got.NCTID)
	assert.Equal(t, "PHASE2 / PHASE3", got.Phase)
	assert.Equal(t, []string{"Pembrolizumab"}, got.Interventions)
	assert.Equal(t, "Acme Oncology", got.Sponsor)
	require.Len(t, got.Locations, 1)
	assert.Equal(t, "Boston", got.Locations[0].City)
	require.NotNil(t, got.Locations[0].Latitude)
	assert.InDelta(t, 42.36, *got.Locations[0].Latitude, 0.001)
}

func TestSearchRequiresCondition(t *testing.T) {
	client := NewClient(nil)
	_, err := client.Search(context.Background(), ports.TrialSearchQuery{})
	require.Error(t, err)
}

func TestDetailEligibilityLocationsShareCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/studies/NCT01234567", r.URL.Path)
		_, _ = w.Write([]byte(studyJSON))
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	ctx := context.Background()

	detail, err := client.Detail(ctx, "nct01234567")
	require.NoError(t, err)
	assert.Equal(t, "Melanoma Study", detail.BriefTitle)
	require.Len(t, detail.PrimaryOutcomes, 1)
	assert.Equal(t, "Overall survival", detail.PrimaryOutcomes[0].Measure)
	require.Len(t, detail.Arms, 1)
	assert.Equal(t, "Arm A", detail.Arms[0].Label)

	elig, err := client.Eligibility(ctx, "NCT01234567")
	require.NoError(t, err)
	assert.Equal(t, []string{"Adults 18+"}, elig.Inclusion)
	assert.Equal(t, []string{"Pregnancy"}, elig.Exclusion)
	assert.Equal(t, "18 Years", elig.MinAge)

	locs, err := client.Locations(ctx, "NCT01234567")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "General Hospital", locs[0].Facility)
	assert.Equal(t, "555-0100", locs[0].ContactPhone)

	// One upstream fetch serves all three lookups.
	assert.Equal(t, int32(1), hits.Load())
}

func TestDetailUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	_, err := client.Detail(context.Background(), "NCT00000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
