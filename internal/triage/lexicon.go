package triage

import (
	"regexp"
	"strings"
)

type pattern struct {
	regex   *regexp.Regexp
	weight  float64
	keyword string
	// transient marks notices from a person who will be back.
	transient bool
}

func (p *pattern) match(text string) bool {
	return p.regex.MatchString(text)
}

// Auto-responders, bounces and out-of-office notices.
var nonLeadPatterns = []*pattern{
	{regex: regexp.MustCompile(`(?i)\b(out of (the )?office|ooo)\b`), weight: 1, keyword: "out of office", transient: true},
	{regex: regexp.MustCompile(`(?i)\bauto(matic)?[\s-]?(reply|response|responder)\b`), weight: 1, keyword: "auto-reply"},
	{regex: regexp.MustCompile(`(?i)\bi am (currently )?(away|on vacation|out)\b.*\b(return|back)\b`), weight: 1, keyword: "away notice", transient: true},
	{regex: regexp.MustCompile(`(?i)\b(undeliverable|delivery status notification|delivery has failed|message (was )?not delivered|returned mail|mail delivery (failed|subsystem))\b`), weight: 1, keyword: "bounce"},
	{regex: regexp.MustCompile(`(?i)\bthis mailbox is (not|no longer) monitored\b`), weight: 1, keyword: "unmonitored mailbox"},
}

var bounceSenders = regexp.MustCompile(`(?i)^(mailer-daemon|postmaster|no-?reply|do-?not-?reply)@`)

// Topics the system must never answer on its own: money, negotiation, legal and complaints.
var riskPatterns = []*pattern{
	{regex: regexp.MustCompile(`(?i)\b(price|prices|pricing|priced)\b`), weight: 0.95, keyword: "price"},
	{regex: regexp.MustCompile(`(?i)\b(how much|cost|costs|quote|msrp|out the door|otd)\b`), weight: 0.9, keyword: "cost"},
	{regex: regexp.MustCompile(`(?i)\b(discount|rebate|incentive|best (deal|offer)|lowest|negotiat\w*|counter ?offer)\b`), weight: 0.9, keyword: "negotiation"},
	{regex: regexp.MustCompile(`(?i)\b(financ\w*|apr|interest rate|monthly payment|down payment|credit (score|app\w*)|loan|lease (terms|deal|payment))\b`), weight: 0.9, keyword: "financing"},
	{regex: regexp.MustCompile(`(?i)\btrade[\s-]?in (value|offer|price)\b|\bwhat('s| is) my (car|trade|vehicle) worth\b`), weight: 0.85, keyword: "trade-in value"},
	{regex: regexp.MustCompile(`(?i)\b(lawyer|attorney|sue|lawsuit|legal action|bbb|better business bureau)\b`), weight: 0.99, keyword: "legal"},
	{regex: regexp.MustCompile(`(?i)\b(complain\w*|terrible|awful|ripped off|scam|rude|unacceptable|manager)\b`), weight: 0.9, keyword: "complaint"},
	{regex: regexp.MustCompile(`(?i)\b(refund|deposit back|chargeback)\b`), weight: 0.9, keyword: "refund"},
	{regex: regexp.MustCompile(`(?i)\b(recall|accident|warranty claim|lemon)\b`), weight: 0.8, keyword: "vehicle issue"},
}

// Availability and scheduling intents the system answers without a model call.
var safePatterns = []*pattern{
	{regex: regexp.MustCompile(`(?i)\b(is it|is the \w+|still)\s+(still )?available\b|\bavailability\b`), weight: 0.95, keyword: "availability"},
	{regex: regexp.MustCompile(`(?i)\b(test ?drive|come (in|by)|stop (in|by)|swing by|visit|appointment|appt|schedule|book)\b`), weight: 0.95, keyword: "scheduling"},
	{regex: regexp.MustCompile(`(?i)\b(mon|tues?|wed(nes)?|thu(rs?)?|fri|sat(ur)?|sun)(day)?\b`), weight: 0.95, keyword: "day mention"},
	{regex: regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|this (morning|afternoon|evening|weekend)|next week)\b`), weight: 0.95, keyword: "relative day"},
	{regex: regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s*(am|pm)\b|\bat \d{1,2}(:\d{2})?\b|\bnoon\b`), weight: 0.95, keyword: "time mention"},
	{regex: regexp.MustCompile(`(?i)\b(what time|when) (are|is) (you|the store|the dealership) open\b|\b(hours|open until|close at)\b`), weight: 0.95, keyword: "store hours"},
}

// firstMatch returns the highest-weight pattern that matches text.
func firstMatch(patterns []*pattern, text string) *pattern {
	var best *pattern
	for _, p := range patterns {
		if p.match(text) && (best == nil || p.weight > best.weight) {
			best = p
		}
	}
	return best
}

func isBounceSender(from string) bool {
	return bounceSenders.MatchString(strings.TrimSpace(from))
}
