package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`)
	cardRe  = regexp.MustCompile(`(?:\d[ -]?){13,19}`)
)

// HashContact returns the hex SHA-256 of a lowercased phone or email.
func HashContact(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	h := sha256.Sum256([]byte(v))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces card numbers with [CARD_<last4>], emails with [EMAIL]
// and phone numbers with [PHONE].
func ScrubPII(text string) string {
	text = redactCards(text)
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// redactCards masks digit runs that pass the Luhn check. Shorter runs, like
// phone numbers and stock numbers, are left for the other rules.
func redactCards(text string) string {
	return cardRe.ReplaceAllStringFunc(text, func(m string) string {
		digits := digitsOnly(m)
		if len(digits) < 13 || len(digits) > 19 || !luhnValid(digits) {
			return m
		}
		suffix := ""
		if strings.HasSuffix(m, " ") || strings.HasSuffix(m, "-") {
			suffix = m[len(m)-1:]
		}
		return "[CARD_" + digits[len(digits)-4:] + "]" + suffix
	})
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func luhnValid(digits string) bool {
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}
