package trials

import (
	"regexp"
	"strings"
)

var numberedItemRe = regexp.MustCompile(`^\d+[.)]\s*`)

// ParseCriteriaText splits the registry's free-text eligibility criteria into
// inclusion and exclusion lists. Text without recognizable section headings is
// treated as all-inclusion.
func ParseCriteriaText(text string) (inclusion, exclusion []string) {
	inclusion = []string{}
	exclusion = []string{}
	if text == "" {
		return inclusion, exclusion
	}

	lower := strings.ToLower(text)
	incStart := strings.Index(lower, "inclusion criteria")
	excStart := strings.Index(lower, "exclusion criteria")

	switch {
	case incStart != -1 && excStart != -1:
		if incStart < excStart {
			inclusion = extractBulletItems(text[incStart:excStart])
			exclusion = extractBulletItems(text[excStart:])
		} else {
			exclusion = extractBulletItems(text[excStart:incStart])
			inclusion = extractBulletItems(text[incStart:])
		}
	case incStart != -1:
		inclusion = extractBulletItems(text[incStart:])
	case excStart != -1:
		exclusion = extractBulletItems(text[excStart:])
	default:
		inclusion = extractBulletItems(text)
	}
	return inclusion, exclusion
}

func extractBulletItems(section string) []string {
	items := []string{}
	for _, line := range strings.Split(strings.TrimSpace(section), "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		lower := strings.ToLower(stripped)
		if strings.HasPrefix(lower, "inclusion criteria") || strings.HasPrefix(lower, "exclusion criteria") {
			continue
		}

		trimmed := false
		for _, prefix := range []string{"-", "*", "•"} {
			if strings.HasPrefix(stripped, prefix) {
				stripped = strings.TrimSpace(strings.TrimPrefix(stripped, prefix))
				trimmed = true
				break
			}
		}
		if !trimmed {
			stripped = strings.TrimSpace(numberedItemRe.ReplaceAllString(stripped, ""))
		}

		if stripped != "" {
			items = append(items, stripped)
		}
	}
	return items
}
