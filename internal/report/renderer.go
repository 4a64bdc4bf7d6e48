// Package report renders the patient-facing trial briefing as standalone HTML
// and optionally converts it to PDF through a headless browser when one is
// installed.
package report

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"compass/internal/agent/ports"
	"compass/internal/session"
)

//go:embed templates/report.html.tmpl
var reportTemplate string

// Renderer implements ports.ReportRenderer with html/template.
type Renderer struct {
	tmpl *template.Template
	now  func() time.Time
}

var _ ports.ReportRenderer = (*Renderer)(nil)

// NewRenderer parses the embedded template. The template is compiled into the
// binary, so a parse failure is a programming error.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"deref": func(f *float64) float64 {
			if f == nil {
				return 0
			}
			return *f
		},
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{tmpl: tmpl, now: time.Now}, nil
}

type reportData struct {
	GeneratedDate    string
	ExecutiveSummary string
	Profile          *session.PatientProfile
	MatchedTrials    []session.MatchedTrial
	ComparisonTable  bool
	DoctorQuestions  []string
	Glossary         []ports.GlossaryEntry
}

// Render produces the full HTML document. Empty doctorQuestions and glossary
// fall back to built-in defaults.
func (r *Renderer) Render(profile *session.PatientProfile, matched []session.MatchedTrial, doctorQuestions []string, glossary []ports.GlossaryEntry) (string, error) {
	if profile == nil {
		profile = session.NewPatientProfile()
	}
	if len(doctorQuestions) == 0 {
		doctorQuestions = defaultQuestions(profile, matched)
	}
	if len(glossary) == 0 {
		glossary = defaultGlossary()
	}

	data := reportData{
		GeneratedDate:    r.now().Format("January 2, 2006"),
		ExecutiveSummary: executiveSummary(profile, matched),
		Profile:          profile,
		MatchedTrials:    matched,
		ComparisonTable:  len(matched) > 1,
		DoctorQuestions:  doctorQuestions,
		Glossary:         glossary,
	}

	var b strings.Builder
	if err := r.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return b.String(), nil
}

func executiveSummary(profile *session.PatientProfile, matched []session.MatchedTrial) string {
	condition := profile.Condition.PrimaryDiagnosis
	if condition == "" {
		condition = "your condition"
	}
	n := len(matched)
	plural := "s"
	if n == 1 {
		plural = ""
	}
	tail := "Consider broadening your search criteria or discussing other options with your doctor."
	if n > 0 {
		tail = "These are ranked by how well they match your profile."
	}
	return fmt.Sprintf("Based on your profile, we found %d clinical trial%s that may be relevant for %s. %s",
		n, plural, condition, tail)
}

func defaultQuestions(profile *session.PatientProfile, matched []session.MatchedTrial) []string {
	questions := []string{
		"Based on my current condition and treatment history, am I a good candidate for any of these trials?",
		"Are there any eligibility criteria that might disqualify me that we should discuss?",
		"How would participating in a clinical trial affect my current treatment plan?",
		"What are the potential risks and benefits of each trial compared to my current treatment options?",
	}
	for _, trial := range matched {
		if strings.Contains(strings.ToUpper(trial.Phase), "PHASE1") || strings.HasPrefix(trial.Phase, "Phase 1") {
			questions = append(questions,
				"Some of these trials are early-phase (Phase 1). What does that mean for the level of evidence about safety and effectiveness?")
			break
		}
	}
	if profile.Location.MaxTravelMiles > 100 {
		questions = append(questions,
			"For trials that require travel, how often would I need to visit the study site, and is there any support for travel costs?")
	}
	return append(questions,
		"If I enroll in a trial, what happens if the treatment isn't working or I experience side effects?",
		"Can you help me contact the study coordinators for the trials that seem like the best fit?",
	)
}

func defaultGlossary() []ports.GlossaryEntry {
	return []ports.GlossaryEntry{
		{Term: "Clinical Trial", Definition: "A research study that tests how well a new medical approach works in people."},
		{Term: "Phase 1", Definition: "First stage of testing in humans, primarily evaluating safety. Usually involves a small group (20-80 people)."},
		{Term: "Phase 2", Definition: "Testing in a larger group (100-300 people) to evaluate how well the treatment works and further assess safety."},
		{Term: "Phase 3", Definition: "Large-scale testing (1,000-3,000 people) comparing the new treatment to current standard treatment."},
		{Term: "Randomized", Definition: "Participants are assigned to treatment groups by chance (like flipping a coin), not by choice."},
		{Term: "Double-blind", Definition: "Neither the participants nor the doctors know which treatment group a participant is in, to prevent bias."},
		{Term: "Placebo", Definition: "An inactive treatment (like a sugar pill) used as a comparison to measure the real effects of the study treatment."},
		{Term: "Eligibility Criteria", Definition: "The requirements a person must meet to join a clinical trial, including medical and personal factors."},
		{Term: "Informed Consent", Definition: "The process of learning about a clinical trial before deciding whether to participate. You can withdraw at any time."},
		{Term: "NCT Number", Definition: "A unique identification number assigned to each clinical trial registered on ClinicalTrials.gov."},
	}
}
