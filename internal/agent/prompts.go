package agent

import (
	"embed"
	"fmt"
	"sync"

	"compass/internal/session"
	"compass/internal/shared/logging"
)

//go:embed prompts skills
var promptFS embed.FS

var (
	promptWarnMu   sync.Mutex
	promptWarnSeen = map[string]bool{}
)

// loadPrompt reads one embedded prompt document. A missing document degrades
// to an empty string with a single warning, never an error.
func loadPrompt(logger logging.Logger, dir, name string) string {
	path := fmt.Sprintf("%s/%s.md", dir, name)
	data, err := promptFS.ReadFile(path)
	if err != nil {
		promptWarnMu.Lock()
		if !promptWarnSeen[path] {
			promptWarnSeen[path] = true
			logging.OrNop(logger).Warn("Prompt file not found: %s", path)
		}
		promptWarnMu.Unlock()
		return ""
	}
	return string(data)
}

// buildSystemPrompt assembles the base instructions plus the phase-specific
// block. Matching gets the eligibility and translation skills; report and
// followup share the report-generator bundle.
func buildSystemPrompt(logger logging.Logger, phase session.Phase) string {
	base := loadPrompt(logger, "prompts", "orchestrator")

	var phasePrompt string
	switch phase {
	case session.PhaseIntake:
		phasePrompt = loadPrompt(logger, "prompts", "intake")
	case session.PhaseSearch:
		phasePrompt = loadPrompt(logger, "prompts", "search")
	case session.PhaseMatching:
		phasePrompt = loadPrompt(logger, "prompts", "match_translate") +
			"\n\n" + loadPrompt(logger, "skills", "eligibility_analysis") +
			"\n\n" + loadPrompt(logger, "skills", "medical_translation")
	case session.PhaseSelection:
		phasePrompt = loadPrompt(logger, "prompts", "selection")
	case session.PhaseReport, session.PhaseFollowup:
		phasePrompt = loadPrompt(logger, "prompts", "report_generator") +
			"\n\n" + loadPrompt(logger, "skills", "medical_translation")
	}

	return fmt.Sprintf("%s\n\n## Current Phase: %s\n\n%s", base, phase, phasePrompt)
}
