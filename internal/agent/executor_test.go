package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compass/internal/agent/ports"
	"compass/internal/session"
)

func newTestExecutor(t *testing.T, deps Collaborators) (*Executor, string, *memStore) {
	t.Helper()
	store, ok := deps.Store.(*memStore)
	require.True(t, ok)
	sessionID, err := store.Create(context.Background())
	require.NoError(t, err)
	executor, err := NewExecutor(sessionID, deps)
	require.NoError(t, err)
	return executor, sessionID, store
}

func TestNewExecutorCoversCatalog(t *testing.T) {
	executor, _, _ := newTestExecutor(t, testCollaborators(newMemStore()))
	for _, def := range Catalog() {
		assert.Contains(t, executor.handlers, def.Name)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	executor, _, _ := newTestExecutor(t, testCollaborators(newMemStore()))
	out := executor.Execute(context.Background(), &turnContext{}, "no_such_tool", nil)
	assert.Contains(t, out, "Unknown tool: no_such_tool")
}

func TestExecuteContainsHandlerErrors(t *testing.T) {
	deps := testCollaborators(newMemStore())
	deps.Trials = &stubRegistry{failWith: errors.New("registry unreachable")}
	executor, _, _ := newTestExecutor(t, deps)

	out := executor.Execute(context.Background(), &turnContext{}, toolSearchTrials,
		map[string]any{"condition": "melanoma"})

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Contains(t, payload["error"], "registry unreachable")
}

func TestSearchTrialsSavesResultsAndEmitsStatusesOnly(t *testing.T) {
	lat := 41.1
	lon := -71.2
	deps := testCollaborators(newMemStore())
	deps.Trials = &stubRegistry{results: []session.TrialSummary{
		{
			NCTID:         "NCT00000001",
			BriefTitle:    "Study One",
			Phase:         "PHASE2",
			OverallStatus: "RECRUITING",
			Locations: []session.TrialLocation{
				{Facility: "General Hospital", City: "Providence", State: "RI", Latitude: &lat, Longitude: &lon},
			},
		},
		{BriefTitle: "Missing registry ID"},
	}}
	executor, sessionID, store := newTestExecutor(t, deps)

	tc := &turnContext{}
	out := executor.Execute(context.Background(), tc, toolSearchTrials, map[string]any{
		"condition": "melanoma",
		"status":    []any{"RECRUITING", "NOT_YET_RECRUITING"},
	})

	var payload struct {
		Count  int              `json:"count"`
		Trials []map[string]any `json:"trials"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, 1, payload.Count)
	require.Len(t, payload.Trials, 1)
	assert.Equal(t, "Providence, RI", payload.Trials[0]["nearest_city"])

	saved, err := store.SearchResults(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "NCT00000001", saved[0].NCTID)

	state, err := store.State(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, state.SearchComplete)

	require.Len(t, tc.emissions, 1)
	assert.Equal(t, "filters_update", tc.emissions[0].Kind())
	assert.Equal(t, []string{"RECRUITING", "NOT_YET_RECRUITING"}, tc.emissions[0]["statuses"])
	assert.NotContains(t, tc.emissions[0], "condition")
}

func TestSavePatientProfileEmissionOmitsAgeAndSex(t *testing.T) {
	executor, sessionID, store := newTestExecutor(t, testCollaborators(newMemStore()))

	tc := &turnContext{}
	out := executor.Execute(context.Background(), tc, toolSavePatientProfile, map[string]any{
		"profile": map[string]any{
			"condition":    map[string]any{"primary_diagnosis": "Stage III Melanoma"},
			"demographics": map[string]any{"age": 62, "sex": "female"},
			"location": map[string]any{
				"description":      "Boston, MA",
				"latitude":         42.36,
				"longitude":        -71.06,
				"max_travel_miles": 50,
			},
		},
	})
	assert.Contains(t, out, `"status":"saved"`)

	state, err := store.State(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, state.ProfileComplete)

	require.Len(t, tc.emissions, 1)
	emission := tc.emissions[0]
	assert.Equal(t, "filters_update", emission.Kind())
	assert.Equal(t, "Stage III Melanoma", emission["condition"])
	assert.Equal(t, "Boston, MA", emission["location"])
	assert.Equal(t, 42.36, emission["latitude"])
	assert.NotContains(t, emission, "age")
	assert.NotContains(t, emission, "sex")
}

func TestUpdateSessionPhase(t *testing.T) {
	executor, sessionID, store := newTestExecutor(t, testCollaborators(newMemStore()))

	tc := &turnContext{}
	out := executor.Execute(context.Background(), tc, toolUpdateSessionPhase,
		map[string]any{"phase": "search"})
	assert.Contains(t, out, `"status":"updated"`)

	state, err := store.State(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.PhaseSearch, state.Phase)

	require.Len(t, tc.emissions, 1)
	assert.Equal(t, "Moving to search phase...", tc.emissions[0]["message"])
}

func TestUpdateSessionPhaseRejectsUnknown(t *testing.T) {
	executor, sessionID, store := newTestExecutor(t, testCollaborators(newMemStore()))

	out := executor.Execute(context.Background(), &turnContext{}, toolUpdateSessionPhase,
		map[string]any{"phase": "negotiation"})
	assert.Contains(t, out, "unknown phase")

	state, err := store.State(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.PhaseIntake, state.Phase)
}

func TestSaveMatchedTrialsNormalizesFractionalScores(t *testing.T) {
	executor, sessionID, store := newTestExecutor(t, testCollaborators(newMemStore()))

	out := executor.Execute(context.Background(), &turnContext{}, toolSaveMatchedTrials,
		map[string]any{"trials": []any{
			map[string]any{"nct_id": "NCT00000001", "fit_score": 0.85},
			map[string]any{"nct_id": "NCT00000002", "fit_score": 72},
		}})
	assert.Contains(t, out, `"count":2`)

	matched, err := store.MatchedTrials(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.InDelta(t, 85.0, matched[0].FitScore, 1e-9)
	assert.Equal(t, 72.0, matched[1].FitScore)

	state, err := store.State(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, state.MatchingComplete)
}

func TestGenerateReportEmissionSequence(t *testing.T) {
	deps := testCollaborators(newMemStore())
	deps.PDF = stubPDF{available: true}
	executor, sessionID, store := newTestExecutor(t, deps)

	tc := &turnContext{}
	out := executor.Execute(context.Background(), tc, toolGenerateReport, map[string]any{
		"questions_for_doctor": []any{"Is this trial right for me?"},
		"glossary":             map[string]any{"Placebo": "An inactive treatment."},
	})

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "generated", payload["status"])
	assert.Equal(t, "/api/sessions/"+sessionID+"/report", payload["url"])
	assert.Equal(t, "/api/sessions/"+sessionID+"/report.pdf", payload["pdf_url"])

	html, err := store.Report(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Contains(t, html, "report")

	state, err := store.State(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, state.ReportGenerated)

	var kinds []string
	for _, e := range tc.emissions {
		kinds = append(kinds, e.Kind())
	}
	assert.Equal(t, []string{"status", "status", "status", "report_ready", "status"}, kinds)
	assert.Equal(t, "Report complete!", tc.emissions[len(tc.emissions)-1]["message"])
}

func TestGenerateReportWithoutPDFConverter(t *testing.T) {
	executor, _, _ := newTestExecutor(t, testCollaborators(newMemStore()))

	tc := &turnContext{}
	out := executor.Execute(context.Background(), tc, toolGenerateReport, map[string]any{})
	assert.Contains(t, out, `"status":"generated"`)
	assert.NotContains(t, out, "pdf_url")
}

func TestGetDrugLabelMissIsNull(t *testing.T) {
	executor, _, _ := newTestExecutor(t, testCollaborators(newMemStore()))
	out := executor.Execute(context.Background(), &turnContext{}, toolGetDrugLabel,
		map[string]any{"drug_name": "unheardofazumab"})
	assert.Equal(t, "null", out)
}

func TestGetTrialDetailsCachesTurnContext(t *testing.T) {
	deps := testCollaborators(newMemStore())
	deps.Trials = &stubRegistry{detail: &ports.TrialDetail{
		NCTID:      "NCT04267848",
		BriefTitle: strings.Repeat("Very Long Title ", 20),
	}}
	executor, _, _ := newTestExecutor(t, deps)

	tc := &turnContext{}
	executor.Execute(context.Background(), tc, toolGetTrialDetails,
		map[string]any{"nct_id": "NCT04267848"})

	assert.Equal(t, "NCT04267848", tc.currentNCTID)
	assert.LessOrEqual(t, len(tc.currentBriefTitle), detailTitleCache)
}

func TestHealthImportSummaryEmpty(t *testing.T) {
	executor, _, _ := newTestExecutor(t, testCollaborators(newMemStore()))
	out := executor.Execute(context.Background(), &turnContext{}, toolHealthImportSummary, nil)
	assert.Contains(t, out, `"imported":false`)
}

func TestHealthImportSummaryEstimatesECOG(t *testing.T) {
	store := newMemStore()
	executor, sessionID, _ := newTestExecutor(t, testCollaborators(store))

	steps := 5200.0
	profile := session.NewPatientProfile()
	profile.HealthKit.ActivityStepsPerDay = &steps
	require.NoError(t, store.SaveProfile(context.Background(), sessionID, profile))

	out := executor.Execute(context.Background(), &turnContext{}, toolHealthImportSummary, nil)
	assert.Contains(t, out, `"imported":true`)
	assert.Contains(t, out, `"estimated_ecog":1`)
}

func TestEmitPartialFiltersWhitelist(t *testing.T) {
	executor, _, _ := newTestExecutor(t, testCollaborators(newMemStore()))

	tc := &turnContext{}
	executor.Execute(context.Background(), tc, toolEmitPartialFilters, map[string]any{
		"condition":     "melanoma",
		"age":           62,
		"internal_flag": true,
	})

	require.Len(t, tc.emissions, 1)
	emission := tc.emissions[0]
	assert.Equal(t, "melanoma", emission["condition"])
	assert.Contains(t, emission, "age")
	assert.NotContains(t, emission, "internal_flag")
}

func TestNormalizeFitScore(t *testing.T) {
	assert.InDelta(t, 85.0, NormalizeFitScore(0.85), 1e-9)
	assert.Equal(t, 100.0, NormalizeFitScore(1.0))
	assert.Equal(t, 72.0, NormalizeFitScore(72))
	assert.Equal(t, 0.0, NormalizeFitScore(0))
	assert.Equal(t, -5.0, NormalizeFitScore(-5))
}

func TestEstimateECOGFromSteps(t *testing.T) {
	assert.Equal(t, 0, EstimateECOGFromSteps(9000))
	assert.Equal(t, 0, EstimateECOGFromSteps(7500))
	assert.Equal(t, 1, EstimateECOGFromSteps(4000))
	assert.Equal(t, 2, EstimateECOGFromSteps(1000))
	assert.Equal(t, 3, EstimateECOGFromSteps(250))
	assert.Equal(t, 4, EstimateECOGFromSteps(100))
}
