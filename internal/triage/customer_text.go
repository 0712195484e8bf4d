package triage

import (
	"regexp"
	"strings"
)

var (
	quoteHeader   = regexp.MustCompile(`(?i)^\s*(on .+ wrote:|-{2,}\s*original message\s*-{2,}|from:\s.+|sent from my \w+|get outlook for \w+)\s*$`)
	templateLabel = regexp.MustCompile(`(?i)^\s*(customer )?(comments?|message|questions?)\s*:\s*(.*)$`)
	templateField = regexp.MustCompile(`(?i)^\s*[a-z][a-z /]{1,30}:\s`)
)

// CustomerText returns only the customer-authored portion of an inbound body.
// Quoted history, signatures and lead-provider template fields are removed.
// When a provider template carries a "Comments:" block, only that block is kept.
func CustomerText(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if comment, ok := templateComment(body); ok {
		return comment
	}
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "--" || quoteHeader.MatchString(line) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func templateComment(body string) (string, bool) {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		m := templateLabel.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		parts := []string{}
		if v := strings.TrimSpace(m[3]); v != "" {
			parts = append(parts, v)
		}
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" || templateField.MatchString(next) {
				break
			}
			parts = append(parts, strings.TrimSpace(next))
		}
		return strings.Join(parts, "\n"), true
	}
	return "", false
}
