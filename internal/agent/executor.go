package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"compass/internal/agent/ports"
	"compass/internal/geo"
	"compass/internal/metrics"
	"compass/internal/session"
	"compass/internal/shared/logging"
)

// Slimming budgets for payloads fed back to the model. The context window is
// the scarce resource; long registry text is truncated to fixed sizes.
const (
	searchResultLimit    = 15
	searchTitleBudget    = 120
	detailTextBudget     = 500
	detailCriteriaBudget = 2000
	detailOutcomeLimit   = 3
	detailArmLimit       = 4
	detailArmDescBudget  = 200
	detailTitleCache     = 80
	locationLimit        = 10
	labelFieldBudget     = 1000
)

// turnContext is scratch state scoped to one processed user message: queued
// UI emissions plus the progress-message hints produced by earlier tools in
// the same turn.
type turnContext struct {
	emissions         []Event
	lastLocations     []session.TrialLocation
	currentNCTID      string
	currentBriefTitle string
	toolsExecuted     int
}

func (tc *turnContext) queue(e Event) {
	tc.emissions = append(tc.emissions, e)
}

// flush delivers and clears queued emissions.
func (tc *turnContext) flush(emit EmitFunc) {
	for _, e := range tc.emissions {
		emit(e)
	}
	tc.emissions = nil
}

type toolHandler func(ctx context.Context, tc *turnContext, input map[string]any) (string, error)

// Executor dispatches tool calls to typed handlers and owns tool-level error
// containment: a failing handler becomes a structured error payload for the
// model, never a loop failure.
type Executor struct {
	sessionID string
	store     ports.SessionStore
	trials    ports.TrialRegistry
	drugs     ports.DrugData
	geocoder  ports.Geocoder
	reporter  ports.ReportRenderer
	pdf       ports.PDFRenderer
	logger    logging.Logger
	metrics   *metrics.Metrics

	handlers map[string]toolHandler
}

// NewExecutor builds the dispatch table and verifies it covers the catalog.
func NewExecutor(sessionID string, deps Collaborators) (*Executor, error) {
	e := &Executor{
		sessionID: sessionID,
		store:     deps.Store,
		trials:    deps.Trials,
		drugs:     deps.Drugs,
		geocoder:  deps.Geocoder,
		reporter:  deps.Reporter,
		pdf:       deps.PDF,
		logger:    logging.OrNop(deps.Logger),
		metrics:   deps.Metrics,
	}
	e.handlers = map[string]toolHandler{
		toolSearchTrials:           e.searchTrials,
		toolGetTrialDetails:        e.getTrialDetails,
		toolGetEligibilityCriteria: e.getEligibilityCriteria,
		toolGetTrialLocations:      e.getTrialLocations,
		toolGeocodeLocation:        e.geocodeLocation,
		toolCalculateDistance:      e.calculateDistance,
		toolGetAdverseEvents:       e.getAdverseEvents,
		toolGetDrugLabel:           e.getDrugLabel,
		toolSavePatientProfile:     e.savePatientProfile,
		toolUpdateSessionPhase:     e.updateSessionPhase,
		toolEmitWidget:             e.emitWidget,
		toolEmitTrialCards:         e.emitTrialCards,
		toolEmitStatus:             e.emitStatus,
		toolSaveMatchedTrials:      e.saveMatchedTrials,
		toolGenerateReport:         e.generateReport,
		toolHealthImportSummary:    e.healthImportSummary,
		toolEmitPartialFilters:     e.emitPartialFilters,
	}
	for _, def := range Catalog() {
		if _, ok := e.handlers[def.Name]; !ok {
			return nil, fmt.Errorf("catalog tool %q has no handler", def.Name)
		}
	}
	return e, nil
}

// Execute runs one tool call and returns its result payload as a string. All
// failures are contained here.
func (e *Executor) Execute(ctx context.Context, tc *turnContext, name string, input map[string]any) string {
	handler, ok := e.handlers[name]
	if !ok {
		return mustJSON(map[string]string{"error": "Unknown tool: " + name})
	}

	start := time.Now()
	out, err := handler(ctx, tc, input)
	status := "ok"
	if err != nil {
		status = "error"
		e.metrics.IncToolFailure(name)
		e.logger.Error("Tool execution failed: %s: %v", name, err)
		out = mustJSON(map[string]string{"error": err.Error()})
	}
	e.metrics.ObserveToolDuration(name, status, time.Since(start))
	return out
}

func (e *Executor) searchTrials(ctx context.Context, tc *turnContext, input map[string]any) (string, error) {
	query := ports.TrialSearchQuery{
		Condition:     stringArg(input, "condition"),
		Intervention:  stringArg(input, "intervention"),
		Phases:        stringSliceArg(input, "phase"),
		Statuses:      stringSliceArg(input, "status"),
		Latitude:      floatPtrArg(input, "latitude"),
		Longitude:     floatPtrArg(input, "longitude"),
		DistanceMiles: floatArg(input, "distance_miles"),
		MaxResults:    intArg(input, "max_results"),
	}
	results, err := e.trials.Search(ctx, query)
	if err != nil {
		return "", err
	}

	valid := results[:0:0]
	for _, r := range results {
		if r.NCTID != "" {
			valid = append(valid, r)
		}
	}
	if err := e.store.SaveSearchResults(ctx, e.sessionID, valid); err != nil {
		return "", err
	}
	if err := e.mutateState(ctx, func(s *session.State) { s.SearchComplete = true }); err != nil {
		return "", err
	}

	// Sync the stats panel with statuses only. The condition filter keeps the
	// user's original term; the model may search a broader one.
	if statuses := stringSliceArg(input, "status"); len(statuses) > 0 {
		tc.queue(Event{"type": "filters_update", "statuses": statuses})
	}

	slim := make([]map[string]any, 0, searchResultLimit)
	for i, r := range valid {
		if i >= searchResultLimit {
			break
		}
		entry := map[string]any{
			"nct_id":           r.NCTID,
			"brief_title":      truncate(r.BriefTitle, searchTitleBudget),
			"phase":            r.Phase,
			"overall_status":   r.OverallStatus,
			"interventions":    headStrings(r.Interventions, 3),
			"sponsor":          r.Sponsor,
			"enrollment_count": r.EnrollmentCount,
			"nearest_city":     "",
			"latitude":         nil,
			"longitude":        nil,
		}
		if len(r.Locations) > 0 {
			loc := r.Locations[0]
			entry["nearest_city"] = loc.City + ", " + loc.State
			entry["latitude"] = loc.Latitude
			entry["longitude"] = loc.Longitude
		}
		slim = append(slim, entry)
	}
	return mustJSON(map[string]any{"count": len(valid), "trials": slim}), nil
}

func (e *Executor) getTrialDetails(ctx context.Context, tc *turnContext, input map[string]any) (string, error) {
	nctID := stringArg(input, "nct_id")
	detail, err := e.trials.Detail(ctx, nctID)
	if err != nil {
		return "", err
	}

	detail.BriefSummary = truncate(detail.BriefSummary, detailTextBudget)
	detail.DetailedDescription = truncate(detail.DetailedDescription, detailTextBudget)
	detail.EligibilityCriteriaText = truncate(detail.EligibilityCriteriaText, detailCriteriaBudget)
	if len(detail.PrimaryOutcomes) > detailOutcomeLimit {
		detail.PrimaryOutcomes = detail.PrimaryOutcomes[:detailOutcomeLimit]
	}
	if len(detail.Arms) > detailArmLimit {
		detail.Arms = detail.Arms[:detailArmLimit]
	}
	for i := range detail.Arms {
		detail.Arms[i].Description = truncate(detail.Arms[i].Description, detailArmDescBudget)
	}

	tc.currentNCTID = nctID
	tc.currentBriefTitle = truncate(detail.BriefTitle, detailTitleCache)
	return mustJSON(detail), nil
}

func (e *Executor) getEligibilityCriteria(ctx context.Context, _ *turnContext, input map[string]any) (string, error) {
	criteria, err := e.trials.Eligibility(ctx, stringArg(input, "nct_id"))
	if err != nil {
		return "", err
	}
	return mustJSON(criteria), nil
}

func (e *Executor) getTrialLocations(ctx context.Context, tc *turnContext, input map[string]any) (string, error) {
	locations, err := e.trials.Locations(ctx, stringArg(input, "nct_id"))
	if err != nil {
		return "", err
	}
	if len(locations) > locationLimit {
		locations = locations[:locationLimit]
	}
	tc.lastLocations = locations
	return mustJSON(locations), nil
}

func (e *Executor) geocodeLocation(ctx context.Context, _ *turnContext, input map[string]any) (string, error) {
	result, err := e.geocoder.Forward(ctx, stringArg(input, "location_string"))
	if err != nil {
		return "", err
	}
	return mustJSON(result), nil
}

func (e *Executor) calculateDistance(_ context.Context, _ *turnContext, input map[string]any) (string, error) {
	miles := geo.DistanceMiles(
		floatArg(input, "lat1"), floatArg(input, "lon1"),
		floatArg(input, "lat2"), floatArg(input, "lon2"),
	)
	return mustJSON(map[string]float64{"distance_miles": miles}), nil
}

func (e *Executor) getAdverseEvents(ctx context.Context, _ *turnContext, input map[string]any) (string, error) {
	events, err := e.drugs.AdverseEvents(ctx, stringArg(input, "drug_name"), intArg(input, "limit"))
	if err != nil {
		return "", err
	}
	return mustJSON(events), nil
}

func (e *Executor) getDrugLabel(ctx context.Context, _ *turnContext, input map[string]any) (string, error) {
	label, err := e.drugs.Label(ctx, stringArg(input, "drug_name"))
	if err != nil {
		return "", err
	}
	if label == nil {
		return "null", nil
	}
	label.Indications = truncateEllipsis(label.Indications, labelFieldBudget)
	label.Warnings = truncateEllipsis(label.Warnings, labelFieldBudget)
	label.Dosage = truncateEllipsis(label.Dosage, labelFieldBudget)
	label.AdverseReactions = truncateEllipsis(label.AdverseReactions, labelFieldBudget)
	return mustJSON(label), nil
}

func (e *Executor) savePatientProfile(ctx context.Context, tc *turnContext, input map[string]any) (string, error) {
	raw, ok := input["profile"]
	if !ok {
		return "", fmt.Errorf("profile is required")
	}
	profile := session.NewPatientProfile()
	if err := decodeInto(raw, profile); err != nil {
		return "", fmt.Errorf("invalid profile: %w", err)
	}
	if err := e.store.SaveProfile(ctx, e.sessionID, profile); err != nil {
		return "", err
	}
	if err := e.mutateState(ctx, func(s *session.State) { s.ProfileComplete = true }); err != nil {
		return "", err
	}

	// Sync the condition filter. Age and sex are not sent: search does not
	// filter on them, so forwarding them would narrow the stats panel past
	// what the live search returns.
	emission := Event{
		"type":      "filters_update",
		"condition": profile.Condition.PrimaryDiagnosis,
	}
	if profile.Location.Description != "" {
		emission["location"] = profile.Location.Description
	}
	if profile.Location.Latitude != nil && profile.Location.Longitude != nil {
		emission["latitude"] = *profile.Location.Latitude
		emission["longitude"] = *profile.Location.Longitude
	}
	if profile.Location.MaxTravelMiles > 0 {
		emission["distance_miles"] = profile.Location.MaxTravelMiles
	}
	tc.queue(emission)

	return mustJSON(map[string]any{"status": "saved", "profile": profile}), nil
}

func (e *Executor) updateSessionPhase(ctx context.Context, tc *turnContext, input map[string]any) (string, error) {
	phase := session.Phase(stringArg(input, "phase"))
	if !phase.Valid() {
		return "", fmt.Errorf("unknown phase: %q", phase)
	}
	if err := e.mutateState(ctx, func(s *session.State) { s.Phase = phase }); err != nil {
		return "", err
	}
	tc.queue(statusEvent(string(phase), fmt.Sprintf("Moving to %s phase...", phase)))
	return mustJSON(map[string]any{"status": "updated", "phase": phase}), nil
}

func (e *Executor) emitWidget(_ context.Context, tc *turnContext, input map[string]any) (string, error) {
	tc.queue(Event{
		"type":        "widget",
		"widget_type": stringArg(input, "widget_type"),
		"question":    stringArg(input, "question"),
		"question_id": "q_" + uuid.NewString()[:8],
		"options":     input["options"],
	})
	return mustJSON(map[string]string{"status": "widget_emitted"}), nil
}

func (e *Executor) emitTrialCards(_ context.Context, tc *turnContext, input map[string]any) (string, error) {
	trials, _ := input["trials"].([]any)
	selectable, _ := input["selectable"].(bool)
	tc.queue(Event{
		"type":       "trial_cards",
		"trials":     trials,
		"selectable": selectable,
	})
	return mustJSON(map[string]any{"status": "trial_cards_emitted", "count": len(trials)}), nil
}

func (e *Executor) emitStatus(_ context.Context, tc *turnContext, input map[string]any) (string, error) {
	tc.queue(statusEvent(stringArg(input, "phase"), stringArg(input, "message")))
	return mustJSON(map[string]string{"status": "status_emitted"}), nil
}

func (e *Executor) saveMatchedTrials(ctx context.Context, _ *turnContext, input map[string]any) (string, error) {
	rawTrials, _ := input["trials"].([]any)
	matched := make([]session.MatchedTrial, 0, len(rawTrials))
	for _, raw := range rawTrials {
		var trial session.MatchedTrial
		if err := decodeInto(raw, &trial); err != nil {
			return "", fmt.Errorf("invalid matched trial: %w", err)
		}
		trial.FitScore = NormalizeFitScore(trial.FitScore)
		matched = append(matched, trial)
	}
	if err := e.store.SaveMatchedTrials(ctx, e.sessionID, matched); err != nil {
		return "", err
	}
	if err := e.mutateState(ctx, func(s *session.State) { s.MatchingComplete = true }); err != nil {
		return "", err
	}
	return mustJSON(map[string]any{"status": "saved", "count": len(matched)}), nil
}

func (e *Executor) generateReport(ctx context.Context, tc *turnContext, input map[string]any) (string, error) {
	tc.queue(statusEvent("report", "Analyzing selected trials..."))

	profile, err := e.store.Profile(ctx, e.sessionID)
	if err != nil {
		return "", err
	}
	matched, err := e.store.MatchedTrials(ctx, e.sessionID)
	if err != nil {
		return "", err
	}

	questions := stringSliceArg(input, "questions_for_doctor")
	var glossary []ports.GlossaryEntry
	switch raw := input["glossary"].(type) {
	case map[string]any:
		for term, def := range raw {
			if text, ok := def.(string); ok {
				glossary = append(glossary, ports.GlossaryEntry{Term: term, Definition: text})
			}
		}
	case []any:
		for _, entry := range raw {
			var g ports.GlossaryEntry
			if err := decodeInto(entry, &g); err == nil && g.Term != "" {
				glossary = append(glossary, g)
			}
		}
	}

	tc.queue(statusEvent("report", "Generating comprehensive report..."))
	html, err := e.reporter.Render(profile, matched, questions, glossary)
	if err != nil {
		return "", err
	}
	if err := e.store.SaveReport(ctx, e.sessionID, html); err != nil {
		return "", err
	}
	tc.queue(statusEvent("report", "Formatting report..."))
	if err := e.mutateState(ctx, func(s *session.State) { s.ReportGenerated = true }); err != nil {
		return "", err
	}

	reportURL := fmt.Sprintf("/api/sessions/%s/report", e.sessionID)
	readyEmission := Event{"type": "report_ready", "url": reportURL}
	result := map[string]any{"status": "generated", "url": reportURL}
	// The PDF link is offered only when a converter is installed; its absence
	// never fails report generation.
	if e.pdf != nil && e.pdf.Available() {
		pdfURL := fmt.Sprintf("/api/sessions/%s/report.pdf", e.sessionID)
		readyEmission["pdf_url"] = pdfURL
		result["pdf_url"] = pdfURL
	}
	tc.queue(readyEmission)
	tc.queue(statusEvent("report", "Report complete!"))
	return mustJSON(result), nil
}

func (e *Executor) healthImportSummary(ctx context.Context, _ *turnContext, _ map[string]any) (string, error) {
	profile, err := e.store.Profile(ctx, e.sessionID)
	if err != nil {
		return "", err
	}
	hk := profile.HealthKit
	if hk.Empty() {
		return mustJSON(map[string]any{"imported": false, "message": "No health data imported"}), nil
	}
	summary := map[string]any{
		"imported":                        true,
		"lab_results":                     hk.LabResults,
		"vitals":                          hk.Vitals,
		"medications":                     hk.Medications,
		"activity_steps_per_day":          hk.ActivityStepsPerDay,
		"activity_active_minutes_per_day": hk.ActivityActiveMins,
		"import_date":                     hk.ImportDate,
	}
	if hk.ActivityStepsPerDay != nil {
		summary["estimated_ecog"] = EstimateECOGFromSteps(*hk.ActivityStepsPerDay)
	}
	return mustJSON(summary), nil
}

// Filter keys the data panel understands; anything else the model supplies is
// dropped.
var partialFilterKeys = []string{
	"condition", "age", "sex", "location", "latitude", "longitude",
	"distance_miles", "statuses", "phases",
}

func (e *Executor) emitPartialFilters(_ context.Context, tc *turnContext, input map[string]any) (string, error) {
	emission := Event{"type": "filters_update"}
	for _, key := range partialFilterKeys {
		if v, ok := input[key]; ok && v != nil {
			emission[key] = v
		}
	}
	tc.queue(emission)
	return mustJSON(map[string]string{"status": "filters_emitted"}), nil
}

func (e *Executor) mutateState(ctx context.Context, mutate func(*session.State)) error {
	state, err := e.store.State(ctx, e.sessionID)
	if err != nil {
		return err
	}
	mutate(state)
	return e.store.SaveState(ctx, e.sessionID, state)
}

// NormalizeFitScore rescales fractional fit scores to percentages: values in
// (0, 1] become value*100, everything else passes through unchanged.
func NormalizeFitScore(score float64) float64 {
	if score > 0 && score <= 1 {
		return score * 100
	}
	return score
}

// EstimateECOGFromSteps maps average daily step count to an estimated ECOG
// performance status.
func EstimateECOGFromSteps(avgStepsPerDay float64) int {
	switch {
	case avgStepsPerDay >= 7500:
		return 0
	case avgStepsPerDay >= 4000:
		return 1
	case avgStepsPerDay >= 1000:
		return 2
	case avgStepsPerDay >= 250:
		return 3
	default:
		return 4
	}
}
