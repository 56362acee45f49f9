package audit

import (
	"regexp"
)

// RedactionToken replaces every scrubbed span.
const RedactionToken = "[REDACTED]"

// RedactionPolicy removes direct identifiers from free text before it is
// persisted. The algorithm is pluggable; any policy must guarantee that no
// supplied identifier and no direct name/contact pattern survives.
type RedactionPolicy interface {
	Scrub(text string, identifiers []string) string
}

// RegexPolicy is the default policy: compiled patterns for contact
// information and identifier-shaped strings, plus literal removal of every
// identifier the caller supplies (the patient id, known names).
type RegexPolicy struct {
	patterns []*regexp.Regexp
}

// NewRegexPolicy creates the default redaction policy.
func NewRegexPolicy() *RegexPolicy {
	return &RegexPolicy{
		patterns: []*regexp.Regexp{
			// Email addresses
			regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),

			// Phone numbers, international or local, with common separators
			regexp.MustCompile(`\+?\d{1,3}[\s\-.]?\(?\d{2,4}\)?[\s\-.]?\d{3}[\s\-.]?\d{3,4}\b`),

			// Medical record numbers and similar identifier-shaped digit runs
			regexp.MustCompile(`\b(?:MRN|SSN|ID)[:#\s]*\d[\d\-]{4,}\b`),
			regexp.MustCompile(`\b\d{6,}\b`),

			// Honorific followed by a capitalized name
			regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Mx|Dr|Prof)\.?\s+[A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+)?`),

			// "Patient <Name>" constructions common in clinical notes
			regexp.MustCompile(`\b[Pp]atient\s+[A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+)?`),
		},
	}
}

// Scrub removes identifier patterns and every supplied identifier.
// Identifier removal is case-insensitive and done with a compiled pattern
// so that multi-byte case mappings cannot shift match offsets.
func (p *RegexPolicy) Scrub(text string, identifiers []string) string {
	if text == "" {
		return text
	}

	for _, id := range identifiers {
		if id == "" {
			continue
		}
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(id))
		text = re.ReplaceAllString(text, RedactionToken)
	}

	for _, pattern := range p.patterns {
		text = pattern.ReplaceAllString(text, RedactionToken)
	}

	return text
}
