package agent

import "compass/internal/agent/ports"

// Tool names. The executor's dispatch table is keyed by these; a catalog entry
// without a matching handler fails orchestrator construction.
const (
	toolSearchTrials           = "search_trials"
	toolGetTrialDetails        = "get_trial_details"
	toolGetEligibilityCriteria = "get_eligibility_criteria"
	toolGetTrialLocations      = "get_trial_locations"
	toolGeocodeLocation        = "geocode_location"
	toolCalculateDistance      = "calculate_distance"
	toolGetAdverseEvents       = "get_adverse_events"
	toolGetDrugLabel           = "get_drug_label"
	toolSavePatientProfile     = "save_patient_profile"
	toolUpdateSessionPhase     = "update_session_phase"
	toolEmitWidget             = "emit_widget"
	toolEmitTrialCards         = "emit_trial_cards"
	toolEmitStatus             = "emit_status"
	toolSaveMatchedTrials      = "save_matched_trials"
	toolGenerateReport         = "generate_report"
	toolHealthImportSummary    = "get_health_import_summary"
	toolEmitPartialFilters     = "emit_partial_filters"
)

func criterionScoreItems(exclusionNote bool) *ports.Property {
	iconDesc := "Status icon: use ✅ for met, ❌ for not_met, ❓ for needs_discussion, ➖ for not_enough_info"
	if exclusionNote {
		iconDesc = "Status icon: use ✅ for met (patient does NOT have exclusion), ❌ for not_met (patient HAS exclusion), ❓ for needs_discussion, ➖ for not_enough_info"
	}
	return &ports.Property{
		Type: "object",
		Properties: map[string]ports.Property{
			"criterion":      {Type: "string"},
			"status":         {Type: "string", Enum: []string{"met", "not_met", "needs_discussion", "not_enough_info"}},
			"icon":           {Type: "string", Description: iconDesc},
			"explanation":    {Type: "string"},
			"plain_language": {Type: "string"},
		},
		Required: []string{"criterion", "status", "icon"},
	}
}

// Catalog returns the static tool catalog advertised to the model each turn.
// Descriptions steer tool choice and are part of the behavior contract.
func Catalog() []ports.ToolDefinition {
	return []ports.ToolDefinition{
		{
			Name:        toolSearchTrials,
			Description: "Search ClinicalTrials.gov for clinical trials matching the patient's criteria. Returns a list of trial summaries.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"condition":    {Type: "string", Description: "Medical condition to search for (e.g., 'non-small cell lung cancer')"},
					"intervention": {Type: "string", Description: "Specific intervention/treatment to filter by (optional)"},
					"phase": {Type: "array", Description: "Trial phases to filter by",
						Items: &ports.Property{Type: "string", Enum: []string{"PHASE1", "PHASE2", "PHASE3", "PHASE4"}}},
					"status": {Type: "array", Description: "Trial statuses to filter by. Default: ['RECRUITING']",
						Items: &ports.Property{Type: "string"}},
					"latitude":       {Type: "number", Description: "Patient latitude for geographic filtering"},
					"longitude":      {Type: "number", Description: "Patient longitude for geographic filtering"},
					"distance_miles": {Type: "integer", Description: "Maximum distance from patient location in miles. Default: 100"},
					"max_results":    {Type: "integer", Description: "Maximum number of results to return. Default: 50"},
				},
				Required: []string{"condition"},
			},
		},
		{
			Name:        toolGetTrialDetails,
			Description: "Get the complete study record for a specific clinical trial by its NCT ID.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"nct_id": {Type: "string", Description: "The NCT identifier (e.g., 'NCT12345678')"},
				},
				Required: []string{"nct_id"},
			},
		},
		{
			Name:        toolGetEligibilityCriteria,
			Description: "Get parsed eligibility criteria (inclusion/exclusion lists) for a specific trial.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"nct_id": {Type: "string", Description: "The NCT identifier"},
				},
				Required: []string{"nct_id"},
			},
		},
		{
			Name:        toolGetTrialLocations,
			Description: "Get all recruiting site locations for a specific trial, including facility names, addresses, and coordinates.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"nct_id": {Type: "string", Description: "The NCT identifier"},
				},
				Required: []string{"nct_id"},
			},
		},
		{
			Name:        toolGeocodeLocation,
			Description: "Convert a location name (city, state, zip) to latitude/longitude coordinates.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"location_string": {Type: "string", Description: "Location to geocode (e.g., 'Lompoc, CA' or '93436')"},
				},
				Required: []string{"location_string"},
			},
		},
		{
			Name:        toolCalculateDistance,
			Description: "Calculate the distance in miles between two geographic points.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"lat1": {Type: "number"},
					"lon1": {Type: "number"},
					"lat2": {Type: "number"},
					"lon2": {Type: "number"},
				},
				Required: []string{"lat1", "lon1", "lat2", "lon2"},
			},
		},
		{
			Name:        toolGetAdverseEvents,
			Description: "Get the most commonly reported adverse events for a drug from the FDA database.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"drug_name": {Type: "string", Description: "Generic drug name"},
					"limit":     {Type: "integer", Description: "Max number of adverse events to return. Default: 20"},
				},
				Required: []string{"drug_name"},
			},
		},
		{
			Name:        toolGetDrugLabel,
			Description: "Get FDA-approved drug label information including indications, warnings, and dosage.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"drug_name": {Type: "string", Description: "Generic drug name"},
				},
				Required: []string{"drug_name"},
			},
		},
		{
			Name:        toolSavePatientProfile,
			Description: "Save or update the patient profile with information gathered during intake. Call this after gathering patient information.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"profile": {
						Type:        "object",
						Description: "Patient profile data matching the patient profile schema",
						Properties: map[string]ports.Property{
							"condition": {Type: "object", Properties: map[string]ports.Property{
								"primary_diagnosis": {Type: "string"},
								"stage":             {Type: "string"},
								"subtype":           {Type: "string"},
								"biomarkers":        {Type: "array", Items: &ports.Property{Type: "string"}},
								"date_of_diagnosis": {Type: "string"},
							}},
							"treatment_history": {Type: "array", Items: &ports.Property{
								Type: "object",
								Properties: map[string]ports.Property{
									"treatment":        {Type: "string"},
									"type":             {Type: "string"},
									"cycles_completed": {Type: "integer"},
									"response":         {Type: "string"},
									"end_date":         {Type: "string"},
								},
							}},
							"demographics": {Type: "object", Properties: map[string]ports.Property{
								"age":            {Type: "integer"},
								"sex":            {Type: "string"},
								"estimated_ecog": {Type: "integer"},
							}},
							"location": {Type: "object", Properties: map[string]ports.Property{
								"description":      {Type: "string"},
								"latitude":         {Type: "number"},
								"longitude":        {Type: "number"},
								"max_travel_miles": {Type: "integer"},
								"open_to_virtual":  {Type: "boolean"},
							}},
							"preferences": {Type: "object", Properties: map[string]ports.Property{
								"trial_types":            {Type: "array", Items: &ports.Property{Type: "string"}},
								"phases":                 {Type: "array", Items: &ports.Property{Type: "string"}},
								"placebo_acceptable":     {Type: "boolean"},
								"intervention_interests": {Type: "array", Items: &ports.Property{Type: "string"}},
							}},
						},
					},
				},
				Required: []string{"profile"},
			},
		},
		{
			Name:        toolUpdateSessionPhase,
			Description: "Update the current session phase. Call this when transitioning between phases (e.g., from intake to search).",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"phase": {Type: "string", Description: "The new session phase",
						Enum: []string{"intake", "search", "matching", "selection", "report", "followup"}},
				},
				Required: []string{"phase"},
			},
		},
		{
			Name:        toolEmitWidget,
			Description: "Send a structured selection widget to the user for structured input. Use this for multi-choice questions during intake or trial selection.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"question":    {Type: "string", Description: "The question to display"},
					"widget_type": {Type: "string", Description: "Type of selection widget", Enum: []string{"single_select", "multi_select"}},
					"options": {Type: "array", Description: "Options for the user to select from",
						Items: &ports.Property{
							Type: "object",
							Properties: map[string]ports.Property{
								"label":       {Type: "string"},
								"value":       {Type: "string"},
								"description": {Type: "string"},
							},
							Required: []string{"label", "value"},
						}},
				},
				Required: []string{"question", "widget_type", "options"},
			},
		},
		{
			Name:        toolEmitTrialCards,
			Description: "Send trial summary cards to the user for review or selection.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"trials": {Type: "array", Items: &ports.Property{
						Type: "object",
						Properties: map[string]ports.Property{
							"nct_id":                 {Type: "string"},
							"brief_title":            {Type: "string"},
							"phase":                  {Type: "string"},
							"overall_status":         {Type: "string"},
							"fit_score":              {Type: "number"},
							"fit_summary":            {Type: "string"},
							"nearest_distance_miles": {Type: "number"},
							"interventions":          {Type: "array", Items: &ports.Property{Type: "string"}},
							"sponsor":                {Type: "string"},
							"latitude":               {Type: "number", Description: "Latitude of the nearest trial site, from the location geoPoint data."},
							"longitude":              {Type: "number", Description: "Longitude of the nearest trial site, from the location geoPoint data."},
						},
					}},
					"selectable": {Type: "boolean", Description: "Whether the user can select trials from this list"},
				},
				Required: []string{"trials"},
			},
		},
		{
			Name:        toolEmitStatus,
			Description: "Send a status update to the user showing current progress (e.g., 'Searching ClinicalTrials.gov...').",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"phase":   {Type: "string", Description: "Current phase identifier"},
					"message": {Type: "string", Description: "Human-readable status message"},
				},
				Required: []string{"phase", "message"},
			},
		},
		{
			Name:        toolSaveMatchedTrials,
			Description: "Save scored and ranked trial matches after eligibility analysis. Populate ALL fields for a complete report — especially inclusion_scores, exclusion_scores, what_to_expect, plain_language_summary, nearest_location, and adverse_events.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"trials": {Type: "array", Items: &ports.Property{
						Type: "object",
						Properties: map[string]ports.Property{
							"nct_id":         {Type: "string"},
							"brief_title":    {Type: "string"},
							"phase":          {Type: "string"},
							"overall_status": {Type: "string"},
							"fit_score": {Type: "number",
								Description: "Fit score as a percentage integer from 0 to 100 (e.g. 65 for 65% fit). Do NOT use a 0-1 decimal."},
							"fit_summary": {Type: "string"},
							"plain_language_summary": {Type: "string",
								Description: "A plain-language explanation of what this trial is studying, written at an 8th grade reading level."},
							"what_to_expect": {Type: "string",
								Description: "What the patient should expect if they participate — visit frequency, procedures, duration, etc."},
							"inclusion_scores": {Type: "array",
								Description: "Scored inclusion criteria with icons and plain-language explanations.",
								Items:       criterionScoreItems(false)},
							"exclusion_scores": {Type: "array",
								Description: "Scored exclusion criteria with icons and plain-language explanations.",
								Items:       criterionScoreItems(true)},
							"nearest_location": {Type: "object", Description: "The nearest trial site to the patient.",
								Properties: map[string]ports.Property{
									"facility":       {Type: "string"},
									"city":           {Type: "string"},
									"state":          {Type: "string"},
									"country":        {Type: "string"},
									"distance_miles": {Type: "number"},
									"contact_phone":  {Type: "string"},
									"contact_email":  {Type: "string"},
									"latitude":       {Type: "number", Description: "Latitude of the facility."},
									"longitude":      {Type: "number", Description: "Longitude of the facility."},
								}},
							"adverse_events": {Type: "array", Items: &ports.Property{Type: "string"},
								Description: "Most commonly reported adverse events/side effects for the trial's intervention(s)."},
							"interventions":    {Type: "array", Items: &ports.Property{Type: "string"}},
							"enrollment_count": {Type: "integer", Description: "Number of participants enrolled or planned."},
							"start_date":       {Type: "string", Description: "Trial start date."},
							"sponsor":          {Type: "string"},
						},
					}},
				},
				Required: []string{"trials"},
			},
		},
		{
			Name:        toolGenerateReport,
			Description: "Generate the final HTML report for the patient. Call this during the report phase after all trials have been analyzed.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"questions_for_doctor": {Type: "array", Items: &ports.Property{Type: "string"},
						Description: "Personalized questions for the patient to ask their doctor."},
					"glossary": {Type: "object", Description: "Dictionary of medical terms and their plain language definitions."},
				},
			},
		},
		{
			Name:        toolHealthImportSummary,
			Description: "Get a summary of the patient's imported Apple Health data, including lab results, vitals, medications, and activity levels. Returns null if no health data has been imported. Use this during eligibility analysis to access objective health measurements.",
			InputSchema: ports.ParameterSchema{
				Type:       "object",
				Properties: map[string]ports.Property{},
			},
		},
		{
			Name:        toolEmitPartialFilters,
			Description: "Emit partial filter updates to the frontend data panel as information is gathered during intake. Call this after each patient answer that provides filter-relevant info.",
			InputSchema: ports.ParameterSchema{
				Type: "object",
				Properties: map[string]ports.Property{
					"condition":      {Type: "string", Description: "Patient's primary condition/diagnosis"},
					"age":            {Type: "integer", Description: "Patient's age"},
					"sex":            {Type: "string", Description: "Patient's biological sex"},
					"location":       {Type: "string", Description: "Location description (e.g., 'San Francisco, CA')"},
					"latitude":       {Type: "number", Description: "Location latitude"},
					"longitude":      {Type: "number", Description: "Location longitude"},
					"distance_miles": {Type: "integer", Description: "Maximum travel distance in miles"},
					"statuses":       {Type: "array", Items: &ports.Property{Type: "string"}, Description: "Trial statuses to filter by"},
					"phases":         {Type: "array", Items: &ports.Property{Type: "string"}, Description: "Trial phases to filter by"},
				},
			},
		},
	}
}
