package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// Widget answers arrive as: Question: "..." — My answer: ...
// Both the em-dash and a double hyphen separator are accepted.
var widgetAnswerRe = regexp.MustCompile(`^Question:\s*"(.+?)"\s*(?:\x{2014}|--)\s*My answer:\s*(.+)$`)

// intakeAnswers accumulates patient answers during intake so their substance
// survives transcript compaction. Insertion order is preserved for the
// context block.
type intakeAnswers struct {
	keys            []string
	values          map[string]string
	freeTextCounter int
}

func newIntakeAnswers() *intakeAnswers {
	return &intakeAnswers{values: map[string]string{}}
}

// Record parses one intake-phase user message. Widget-style messages are keyed
// by their question text; anything else gets an incrementing free_text_N key.
func (a *intakeAnswers) Record(userMessage string) {
	if match := widgetAnswerRe.FindStringSubmatch(userMessage); match != nil {
		a.set(strings.TrimSpace(match[1]), strings.TrimSpace(match[2]))
		return
	}
	a.freeTextCounter++
	a.set(fmt.Sprintf("free_text_%d", a.freeTextCounter), strings.TrimSpace(userMessage))
}

func (a *intakeAnswers) set(key, value string) {
	if _, exists := a.values[key]; !exists {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

func (a *intakeAnswers) Len() int { return len(a.keys) }

// ContextBlock renders the collected answers for the per-turn system prompt.
// Empty when nothing was recorded.
func (a *intakeAnswers) ContextBlock() string {
	if len(a.keys) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nCollected Patient Answers (use these when compiling the profile):")
	for _, key := range a.keys {
		if strings.HasPrefix(key, "free_text_") {
			fmt.Fprintf(&b, "\n- Patient description: %s", a.values[key])
		} else {
			fmt.Fprintf(&b, "\n- %s: %s", key, a.values[key])
		}
	}
	return b.String()
}
