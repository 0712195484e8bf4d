package appointment

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	dayToken = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|tmrw|(?:(next|this)\s+)?(monday|tuesday|tues|wednesday|thursday|thurs|friday|saturday|sunday))\b`)
	// Groups: 1 noon; 2-4 hour, minute, meridiem; 5-6 prefixed hour, minute; 7-8 bare hh:mm.
	clockToken = regexp.MustCompile(`(?i)\b(noon|midday)\b|(?:\b(?:at|around|by)\s*)?\b(\d{1,2})(?::(\d{2}))?\s*(a\.m\.|p\.m\.|am\b|pm\b)|\b(?:at|around|by)\s+(\d{1,2})(?::(\d{2}))?\b|\b(\d{1,2}):(\d{2})\b`)
	// Groups: 1 "this", 2 window.
	windowToken = regexp.MustCompile(`(?i)\b(this\s+)?(morning|afternoon|evening)\b`)
	// Text between two tokens that separates alternative proposals.
	alternativeSep = regexp.MustCompile(`(?i)[,;]|\b(or|and|else|otherwise)\b`)

	rescheduleCue = regexp.MustCompile(`(?i)\b(re-?schedul\w*|(move|change|push)\s+(my|the|our)\s+(appointment|appt|time|visit)|push it back|can'?t make it|cannot make it|won'?t make it)\b`)
	openEndedCue  = regexp.MustCompile(`(?i)\b(any ?time|whenever|some ?time|this week|next week|this weekend|what times?|when (can|could|should) (i|we)|your availability|what works|when are you (open|available))\b`)
	// Date forms left to the model resolver.
	unsettledCue = regexp.MustCompile(`(?i)\b(\d{1,2}/\d{1,2}(/\d{2,4})?|(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(st|nd|rd|th)?|the\s+\d{1,2}(st|nd|rd|th)|after (lunch|work|school)|in (a|an|\d+|two|three|a couple of?) (hours?|days?)|end of (the )?week|lunch ?time)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

type tokenKind int

const (
	kindDay tokenKind = iota
	kindClock
	kindWindow
)

type token struct {
	kind  tokenKind
	pos   int
	end   int
	match []string
}

// slot is one proposed visit time. end is where its last token stopped.
type slot struct {
	day    []string
	clock  []string
	window string
	end    int
}

// RulesResolver resolves the common phrasings without a model call.
type RulesResolver struct{}

func (RulesResolver) Resolve(_ context.Context, req ResolveRequest) (Extraction, error) {
	ex, _ := resolveRules(req)
	return ex, nil
}

// resolveRules reports settled=false when the text carries a date form the
// rules do not interpret.
func resolveRules(req ResolveRequest) (Extraction, bool) {
	text := strings.TrimSpace(req.Text)
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	now := req.Now.In(loc)

	slots := findSlots(text)
	if len(slots) >= 2 {
		return Extraction{Classification: MultiOption, Confidence: 0.9, Reason: strconv.Itoa(len(slots)) + " proposed times"}, true
	}
	if unsettledCue.MatchString(text) {
		return Extraction{Classification: OpenEnded, Confidence: 0.5, Reason: "date reference needs interpretation"}, false
	}
	reschedule := rescheduleCue.MatchString(text)
	if len(slots) == 0 {
		switch {
		case reschedule:
			return Extraction{Classification: Reschedule, Confidence: 0.85, Reason: "asked to reschedule without a new time"}, true
		case openEndedCue.MatchString(text):
			return Extraction{Classification: OpenEnded, Confidence: 0.8, Reason: "open to any time"}, true
		default:
			return Extraction{Classification: NoIntent, Reason: "no scheduling language"}, true
		}
	}

	ex := resolveSlot(slots[0], now)
	if reschedule {
		ex.Classification = Reschedule
		ex.Reason = "reschedule: " + ex.Reason
	}
	return ex, true
}

func findSlots(text string) []slot {
	var tokens []token
	for _, m := range dayToken.FindAllStringSubmatchIndex(text, -1) {
		tokens = append(tokens, token{kind: kindDay, pos: m[0], end: m[1], match: submatches(text, m)})
	}
	for _, m := range clockToken.FindAllStringSubmatchIndex(text, -1) {
		tokens = append(tokens, token{kind: kindClock, pos: m[0], end: m[1], match: submatches(text, m)})
	}
	for _, m := range windowToken.FindAllStringSubmatchIndex(text, -1) {
		tokens = append(tokens, token{kind: kindWindow, pos: m[0], end: m[1], match: submatches(text, m)})
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].pos < tokens[j].pos })

	var slots []slot
	for _, tok := range tokens {
		cur := len(slots) - 1
		switch tok.kind {
		case kindDay:
			if strings.EqualFold(tok.match[1], "tonight") {
				tok.match[1] = "today"
				if cur >= 0 && slots[cur].day == nil {
					slots[cur].day = tok.match
					slots[cur].window = WindowEvening
					slots[cur].end = tok.end
					continue
				}
				slots = append(slots, slot{day: tok.match, window: WindowEvening, end: tok.end})
				continue
			}
			if cur >= 0 && slots[cur].day == nil {
				slots[cur].day = tok.match
				slots[cur].end = tok.end
				continue
			}
			slots = append(slots, slot{day: tok.match, end: tok.end})
		case kindClock:
			if cur >= 0 && slots[cur].clock == nil {
				slots[cur].clock = tok.match
				slots[cur].end = tok.end
				continue
			}
			slots = append(slots, slot{clock: tok.match, end: tok.end})
		case kindWindow:
			window := strings.ToLower(tok.match[2])
			var day []string
			if tok.match[1] != "" {
				day = []string{tok.match[0], "today", "", ""}
			}
			// "at 10 in the morning" is one proposal; "at 3, or the morning" is two.
			if cur >= 0 && slots[cur].window == "" &&
				(slots[cur].clock == nil || !alternativeSep.MatchString(text[slots[cur].end:tok.pos])) {
				slots[cur].window = window
				if slots[cur].day == nil {
					slots[cur].day = day
				}
				slots[cur].end = tok.end
				continue
			}
			slots = append(slots, slot{day: day, window: window, end: tok.end})
		}
	}
	return slots
}

func submatches(text string, idx []int) []string {
	out := make([]string, len(idx)/2)
	for i := range out {
		if idx[2*i] >= 0 {
			out[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return out
}

func resolveSlot(s slot, now time.Time) Extraction {
	date, explicit := resolveDay(s.day, now)
	switch {
	case s.clock != nil:
		hour, minute := parseClock(s.clock, s.window)
		t := atClock(date, hour, minute)
		conf := 0.9
		if s.day == nil {
			conf = 0.7
		}
		if !t.After(now) && !explicit {
			if s.day == nil {
				t = t.AddDate(0, 0, 1)
			} else {
				t = t.AddDate(0, 0, 7)
			}
		}
		return Extraction{Classification: ExactTime, ISO: t.Format(time.RFC3339), Confidence: conf, Reason: "resolved " + t.Format("Mon Jan 2 3:04 PM")}
	case s.window != "":
		t := atClock(date, windowAnchors[s.window], 0)
		if !t.After(now) && !explicit {
			if s.day == nil {
				t = t.AddDate(0, 0, 1)
			} else {
				t = t.AddDate(0, 0, 7)
			}
		}
		return Extraction{Classification: VagueWindow, ISO: t.Format(time.RFC3339), Window: s.window, Confidence: 0.6, Reason: s.window + " window"}
	default:
		return Extraction{Classification: VagueDate, Confidence: 0.7, Reason: "day without a time: " + date.Format("Monday Jan 2")}
	}
}

// resolveDay returns the local date a day reference points at. explicit is
// true for "today" and "tomorrow", which are never rolled forward.
func resolveDay(day []string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if day == nil {
		return today, false
	}
	word := strings.ToLower(day[1])
	switch {
	case word == "today":
		return today, true
	case word == "tomorrow" || word == "tmrw":
		return today.AddDate(0, 0, 1), true
	}
	wd := weekdays[strings.ToLower(day[3])]
	delta := (int(wd) - int(now.Weekday()) + 7) % 7
	if delta == 0 && strings.EqualFold(day[2], "next") {
		delta = 7
	}
	return today.AddDate(0, 0, delta), false
}

// parseClock reads a clock match. window settles the meridiem of a bare hour.
func parseClock(m []string, window string) (hour, minute int) {
	switch {
	case m[1] != "":
		return 12, 0
	case m[2] != "":
		hour, _ = strconv.Atoi(m[2])
		minute, _ = strconv.Atoi(m[3])
		pm := strings.HasPrefix(strings.ToLower(m[4]), "p")
		if pm && hour < 12 {
			hour += 12
		}
		if !pm && hour == 12 {
			hour = 0
		}
		return hour, minute
	case m[5] != "":
		hour, _ = strconv.Atoi(m[5])
		minute, _ = strconv.Atoi(m[6])
	default:
		hour, _ = strconv.Atoi(m[7])
		minute, _ = strconv.Atoi(m[8])
	}
	switch window {
	case WindowMorning:
		if hour == 12 {
			hour = 0
		}
	case WindowAfternoon, WindowEvening:
		if hour >= 1 && hour < 12 {
			hour += 12
		}
	default:
		// Without a meridiem, small hours are read as afternoon visits.
		if hour >= 1 && hour <= 7 {
			hour += 12
		}
	}
	return hour, minute
}

func atClock(date time.Time, hour, minute int) time.Time {
	if hour > 23 || minute > 59 {
		hour, minute = 0, 0
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location())
}
