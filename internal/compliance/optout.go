// Package compliance decides whether a lead may be contacted and records permanent opt-outs.
package compliance

import (
	"regexp"
	"strings"
)

// OptOutLexicon matches stop, unsubscribe and do-not-contact variants.
type OptOutLexicon struct {
	leading  *regexp.Regexp
	whole    *regexp.Regexp
	phrases  []*regexp.Regexp
	stripper *regexp.Regexp
}

// NewOptOutLexicon returns the default lexicon.
func NewOptOutLexicon() *OptOutLexicon {
	return &OptOutLexicon{
		// Carrier keywords that opt out when they open the message.
		leading: regexp.MustCompile(`(?i)^(?:please\s+)?(stop|stopall|unsubscribe|optout|opt\s+out)\b`),
		// Ambiguous words that only opt out when they are the entire message.
		whole: regexp.MustCompile(`(?i)^(?:please\s+)?(stop|stopall|unsubscribe|cancel|end|quit|revoke|optout)$`),
		phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bunsubscribe\b`),
			regexp.MustCompile(`(?i)\bopt\s*(?:me\s+)?out\b`),
			regexp.MustCompile(`(?i)\b(?:do\s+not|don'?t|dont)\s+(?:contact|text|email|e-mail|call|message)\s+me\b`),
			regexp.MustCompile(`(?i)\bstop\s+(?:contacting|texting|emailing|e-mailing|messaging|calling|sending)\b`),
			regexp.MustCompile(`(?i)\bremove\s+me\s+from\b`),
			regexp.MustCompile(`(?i)\btake\s+me\s+off\b`),
			regexp.MustCompile(`(?i)\blose\s+my\s+(?:number|email)\b`),
		},
		stripper: regexp.MustCompile(`[^\p{L}\p{N}\s']+`),
	}
}

// Match returns the matched term when text is an opt-out request.
func (l *OptOutLexicon) Match(text string) (string, bool) {
	if l == nil {
		return "", false
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if m := l.leading.FindStringSubmatch(trimmed); m != nil {
		return strings.ToLower(m[1]), true
	}
	bare := strings.TrimSpace(l.stripper.ReplaceAllString(trimmed, ""))
	if m := l.whole.FindStringSubmatch(bare); m != nil {
		return strings.ToLower(m[1]), true
	}
	for _, re := range l.phrases {
		if m := re.FindString(trimmed); m != "" {
			return strings.ToLower(m), true
		}
	}
	return "", false
}
