package ports

import (
	"context"
	"errors"

	"compass/internal/session"
)

// ErrSessionNotFound is returned by SessionStore operations for unknown
// session identifiers.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is durable per-session state keyed by an opaque short code.
// Callers read snapshots and write explicit updates; the store never hands out
// shared mutable references.
type SessionStore interface {
	Create(ctx context.Context) (string, error)
	Exists(sessionID string) bool

	State(ctx context.Context, sessionID string) (*session.State, error)
	SaveState(ctx context.Context, sessionID string, state *session.State) error

	Profile(ctx context.Context, sessionID string) (*session.PatientProfile, error)
	SaveProfile(ctx context.Context, sessionID string, profile *session.PatientProfile) error

	SearchResults(ctx context.Context, sessionID string) ([]session.TrialSummary, error)
	SaveSearchResults(ctx context.Context, sessionID string, trials []session.TrialSummary) error

	MatchedTrials(ctx context.Context, sessionID string) ([]session.MatchedTrial, error)
	SaveMatchedTrials(ctx context.Context, sessionID string, trials []session.MatchedTrial) error

	Report(ctx context.Context, sessionID string) (string, error)
	SaveReport(ctx context.Context, sessionID string, html string) error
}

// TrialSearchQuery carries the registry search parameters.
type TrialSearchQuery struct {
	Condition     string
	Intervention  string
	Phases        []string
	Statuses      []string
	Latitude      *float64
	Longitude     *float64
	DistanceMiles float64
	MaxResults    int
}

// TrialDetail is the slimmed study record kept small for the model's context
// budget.
type TrialDetail struct {
	NCTID                   string           `json:"nct_id"`
	BriefTitle              string           `json:"brief_title"`
	OfficialTitle           string           `json:"official_title,omitempty"`
	OverallStatus           string           `json:"overall_status"`
	Phase                   string           `json:"phase"`
	StudyType               string           `json:"study_type,omitempty"`
	BriefSummary            string           `json:"brief_summary,omitempty"`
	DetailedDescription     string           `json:"detailed_description,omitempty"`
	Interventions           []string         `json:"interventions,omitempty"`
	PrimaryOutcomes         []TrialOutcome   `json:"primary_outcomes,omitempty"`
	EligibilityCriteriaText string           `json:"eligibility_criteria_text,omitempty"`
	MinAge                  string           `json:"min_age,omitempty"`
	MaxAge                  string           `json:"max_age,omitempty"`
	Sex                     string           `json:"sex,omitempty"`
	Enrollment              *int             `json:"enrollment,omitempty"`
	Sponsor                 string           `json:"sponsor,omitempty"`
	Arms                    []TrialArm       `json:"arms,omitempty"`
}

type TrialOutcome struct {
	Measure   string `json:"measure"`
	TimeFrame string `json:"time_frame,omitempty"`
}

type TrialArm struct {
	Label       string `json:"label"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// EligibilityCriteria is the parsed inclusion/exclusion record for one trial.
type EligibilityCriteria struct {
	NCTID          string   `json:"nct_id"`
	RawText        string   `json:"raw_text,omitempty"`
	Inclusion      []string `json:"inclusion"`
	Exclusion      []string `json:"exclusion"`
	MinAge         string   `json:"min_age,omitempty"`
	MaxAge         string   `json:"max_age,omitempty"`
	Sex            string   `json:"sex,omitempty"`
	AcceptsHealthy bool     `json:"accepts_healthy"`
}

// TrialRegistry is the public trials registry collaborator.
type TrialRegistry interface {
	Search(ctx context.Context, q TrialSearchQuery) ([]session.TrialSummary, error)
	Detail(ctx context.Context, nctID string) (*TrialDetail, error)
	Eligibility(ctx context.Context, nctID string) (*EligibilityCriteria, error)
	Locations(ctx context.Context, nctID string) ([]session.TrialLocation, error)
}

// AdverseEvent is one reported reaction term with its report count.
type AdverseEvent struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// DrugLabel is the FDA-approved label record. Absent labels are reported as a
// nil pointer, not an error.
type DrugLabel struct {
	DrugName         string `json:"drug_name"`
	Indications      string `json:"indications,omitempty"`
	Warnings         string `json:"warnings,omitempty"`
	Dosage           string `json:"dosage,omitempty"`
	AdverseReactions string `json:"adverse_reactions,omitempty"`
}

// DrugData is the FDA drug data collaborator.
type DrugData interface {
	AdverseEvents(ctx context.Context, drugName string, limit int) ([]AdverseEvent, error)
	Label(ctx context.Context, drugName string) (*DrugLabel, error)
}

// GeocodeResult is a forward-geocoding hit. Misses are a nil pointer.
type GeocodeResult struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Name        string  `json:"name"`
	AdminRegion string  `json:"admin_region,omitempty"`
	Display     string  `json:"display,omitempty"`
}

// ReverseResult is a reverse-geocoding hit. Misses are a nil pointer.
type ReverseResult struct {
	City    string `json:"city"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
	Display string `json:"display,omitempty"`
}

// Geocoder is the geocoding collaborator.
type Geocoder interface {
	Forward(ctx context.Context, locationString string) (*GeocodeResult, error)
	Reverse(ctx context.Context, latitude, longitude float64) (*ReverseResult, error)
}

// GlossaryEntry is one term/definition pair for the report glossary.
type GlossaryEntry struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// ReportRenderer renders the patient-facing report document.
type ReportRenderer interface {
	Render(profile *session.PatientProfile, matched []session.MatchedTrial, doctorQuestions []string, glossary []GlossaryEntry) (string, error)
}

// PDFRenderer converts a rendered report to PDF. Available must be consulted
// before advertising a PDF export; an unavailable renderer never fails report
// generation, it only omits the link.
type PDFRenderer interface {
	Available() bool
	Render(ctx context.Context, html string) ([]byte, error)
}
