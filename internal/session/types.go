// Package session defines the durable per-session domain model: the workflow
// phase, the patient profile assembled during intake, and the trial records
// produced by search and matching.
package session

// Phase is the current stage of the patient's guided workflow. Transitions are
// driven exclusively by the model through the update_session_phase tool.
type Phase string

const (
	PhaseIntake    Phase = "intake"
	PhaseSearch    Phase = "search"
	PhaseMatching  Phase = "matching"
	PhaseSelection Phase = "selection"
	PhaseReport    Phase = "report"
	PhaseFollowup  Phase = "followup"
)

// Valid reports whether p is one of the known workflow phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIntake, PhaseSearch, PhaseMatching, PhaseSelection, PhaseReport, PhaseFollowup:
		return true
	}
	return false
}

// State is the session document owned by the store. The orchestrator always
// reads a snapshot and writes explicit updates back; it never holds a live
// reference across turns.
type State struct {
	SessionID        string   `json:"session_id"`
	Phase            Phase    `json:"phase"`
	ProfileComplete  bool     `json:"profile_complete"`
	SearchComplete   bool     `json:"search_complete"`
	MatchingComplete bool     `json:"matching_complete"`
	SelectedTrialIDs []string `json:"selected_trial_ids"`
	ReportGenerated  bool     `json:"report_generated"`
}

// NewState returns the initial state for a freshly created session.
func NewState(sessionID string) *State {
	return &State{
		SessionID:        sessionID,
		Phase:            PhaseIntake,
		SelectedTrialIDs: []string{},
	}
}

type Condition struct {
	PrimaryDiagnosis string   `json:"primary_diagnosis"`
	Stage            string   `json:"stage"`
	Subtype          string   `json:"subtype"`
	Biomarkers       []string `json:"biomarkers"`
	DateOfDiagnosis  string   `json:"date_of_diagnosis"`
}

type Treatment struct {
	Treatment       string `json:"treatment"`
	Type            string `json:"type"`
	CyclesCompleted *int   `json:"cycles_completed,omitempty"`
	Response        string `json:"response"`
	EndDate         string `json:"end_date"`
}

type Demographics struct {
	Age           *int   `json:"age,omitempty"`
	Sex           string `json:"sex"`
	EstimatedECOG *int   `json:"estimated_ecog,omitempty"`
}

type Location struct {
	Description    string   `json:"description"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	MaxTravelMiles int      `json:"max_travel_miles"`
	OpenToVirtual  bool     `json:"open_to_virtual"`
}

type Preferences struct {
	TrialTypes            []string `json:"trial_types"`
	Phases                []string `json:"phases"`
	PlaceboAcceptable     *bool    `json:"placebo_acceptable,omitempty"`
	InterventionInterests []string `json:"intervention_interests"`
}

type LabResult struct {
	TestName string  `json:"test_name"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Date     string  `json:"date"`
	Source   string  `json:"source"`
}

type Vital struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Date  string  `json:"date"`
}

type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose"`
	Frequency string `json:"frequency"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsActive  bool   `json:"is_active"`
}

// HealthKitImport holds structured observations converted from an Apple Health
// export. The importer itself lives outside this module; the profile only
// carries its output.
type HealthKitImport struct {
	LabResults          []LabResult  `json:"lab_results"`
	Vitals              []Vital      `json:"vitals"`
	Medications         []Medication `json:"medications"`
	ActivityStepsPerDay *float64     `json:"activity_steps_per_day,omitempty"`
	ActivityActiveMins  *float64     `json:"activity_active_minutes_per_day,omitempty"`
	ImportDate          string       `json:"import_date"`
	SourceFile          string       `json:"source_file"`
}

// Empty reports whether nothing was ever imported.
func (h HealthKitImport) Empty() bool {
	return len(h.LabResults) == 0 && len(h.Vitals) == 0 &&
		len(h.Medications) == 0 && h.ActivityStepsPerDay == nil
}

// PatientProfile is the structured patient record assembled during intake.
type PatientProfile struct {
	Condition        Condition       `json:"condition"`
	TreatmentHistory []Treatment     `json:"treatment_history"`
	Demographics     Demographics    `json:"demographics"`
	Location         Location        `json:"location"`
	Preferences      Preferences     `json:"preferences"`
	HealthKit        HealthKitImport `json:"health_kit"`
}

// NewPatientProfile returns an empty profile with defaults matching the
// intake schema (100 mile travel radius, open to virtual visits).
func NewPatientProfile() *PatientProfile {
	return &PatientProfile{
		Condition:        Condition{Biomarkers: []string{}},
		TreatmentHistory: []Treatment{},
		Location:         Location{MaxTravelMiles: 100, OpenToVirtual: true},
		Preferences: Preferences{
			TrialTypes:            []string{},
			Phases:                []string{},
			InterventionInterests: []string{},
		},
		HealthKit: HealthKitImport{
			LabResults:  []LabResult{},
			Vitals:      []Vital{},
			Medications: []Medication{},
		},
	}
}

type TrialLocation struct {
	Facility      string   `json:"facility"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	Country       string   `json:"country"`
	ZipCode       string   `json:"zip_code,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Status        string   `json:"status,omitempty"`
	ContactName   string   `json:"contact_name,omitempty"`
	ContactPhone  string   `json:"contact_phone,omitempty"`
	ContactEmail  string   `json:"contact_email,omitempty"`
	DistanceMiles *float64 `json:"distance_miles,omitempty"`
}

// TrialSummary is one search result from the trials registry.
type TrialSummary struct {
	NCTID                string          `json:"nct_id"`
	BriefTitle           string          `json:"brief_title"`
	OfficialTitle        string          `json:"official_title,omitempty"`
	Phase                string          `json:"phase"`
	OverallStatus        string          `json:"overall_status"`
	StudyType            string          `json:"study_type,omitempty"`
	BriefSummary         string          `json:"brief_summary,omitempty"`
	Conditions           []string        `json:"conditions,omitempty"`
	Interventions        []string        `json:"interventions,omitempty"`
	EnrollmentCount      *int            `json:"enrollment_count,omitempty"`
	StartDate            string          `json:"start_date,omitempty"`
	CompletionDate       string          `json:"completion_date,omitempty"`
	Sponsor              string          `json:"sponsor,omitempty"`
	Locations            []TrialLocation `json:"locations,omitempty"`
	NearestDistanceMiles *float64        `json:"nearest_distance_miles,omitempty"`
	SearchStrategy       string          `json:"search_strategy,omitempty"`
}

// CriterionScore is one eligibility criterion annotated by the model.
type CriterionScore struct {
	Criterion     string `json:"criterion"`
	Status        string `json:"status"` // met | not_met | needs_discussion | not_enough_info
	Icon          string `json:"icon"`
	Explanation   string `json:"explanation,omitempty"`
	PlainLanguage string `json:"plain_language,omitempty"`
}

// MatchedTrial is a scored, annotated trial produced during matching.
type MatchedTrial struct {
	NCTID                string           `json:"nct_id"`
	BriefTitle           string           `json:"brief_title"`
	Phase                string           `json:"phase"`
	OverallStatus        string           `json:"overall_status"`
	FitScore             float64          `json:"fit_score"`
	FitSummary           string           `json:"fit_summary,omitempty"`
	PlainLanguageSummary string           `json:"plain_language_summary,omitempty"`
	WhatToExpect         string           `json:"what_to_expect,omitempty"`
	InclusionScores      []CriterionScore `json:"inclusion_scores,omitempty"`
	ExclusionScores      []CriterionScore `json:"exclusion_scores,omitempty"`
	NearestLocation      *TrialLocation   `json:"nearest_location,omitempty"`
	AllLocations         []TrialLocation  `json:"all_locations,omitempty"`
	Interventions        []string         `json:"interventions,omitempty"`
	EnrollmentCount      *int             `json:"enrollment_count,omitempty"`
	StartDate            string           `json:"start_date,omitempty"`
	CompletionDate       string           `json:"completion_date,omitempty"`
	Sponsor              string           `json:"sponsor,omitempty"`
	AdverseEvents        []string         `json:"adverse_events,omitempty"`
}
