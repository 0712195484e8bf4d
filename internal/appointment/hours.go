package appointment

import (
	"fmt"
	"strings"
	"time"
)

// DayHours is one day's opening window in 24-hour "15:04" form.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

func (h DayHours) String() string {
	return h.Open + "-" + h.Close
}

// StoreHours holds opening hours per weekday. A nil entry means closed.
type StoreHours struct {
	days [7]*DayHours
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseStoreHours parses "mon-fri 09:00-19:00, sat 09:00-17:00". Days not
// listed are closed. An empty spec means no hours are declared.
func ParseStoreHours(spec string) (StoreHours, error) {
	var sh StoreHours
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return StoreHours{}, fmt.Errorf("appointment: store hours %q: want \"<days> <open>-<close>\"", part)
		}
		days, err := parseDayRange(fields[0])
		if err != nil {
			return StoreHours{}, err
		}
		open, closeAt, ok := strings.Cut(fields[1], "-")
		if !ok {
			return StoreHours{}, fmt.Errorf("appointment: store hours %q: missing time range", part)
		}
		o, err1 := time.Parse("15:04", open)
		c, err2 := time.Parse("15:04", closeAt)
		if err1 != nil || err2 != nil || !c.After(o) {
			return StoreHours{}, fmt.Errorf("appointment: store hours %q: invalid time range", part)
		}
		for _, d := range days {
			sh.days[d] = &DayHours{Open: open, Close: closeAt}
		}
	}
	return sh, nil
}

func parseDayRange(v string) ([]time.Weekday, error) {
	v = strings.ToLower(v)
	from, to, isRange := strings.Cut(v, "-")
	start, ok := dayNames[trimDay(from)]
	if !ok {
		return nil, fmt.Errorf("appointment: unknown day %q", from)
	}
	if !isRange {
		return []time.Weekday{start}, nil
	}
	end, ok := dayNames[trimDay(to)]
	if !ok {
		return nil, fmt.Errorf("appointment: unknown day %q", to)
	}
	var out []time.Weekday
	for d := start; ; d = (d + 1) % 7 {
		out = append(out, d)
		if d == end {
			break
		}
	}
	return out, nil
}

func trimDay(v string) string {
	if len(v) > 3 {
		return v[:3]
	}
	return v
}

// ForDay returns the hours for weekday, nil when closed.
func (s StoreHours) ForDay(d time.Weekday) *DayHours {
	return s.days[d]
}

// Declared reports whether any hours were configured.
func (s StoreHours) Declared() bool {
	for _, d := range s.days {
		if d != nil {
			return true
		}
	}
	return false
}

// Contains reports whether t (already in store time) falls inside opening
// hours. With no declared hours every time is accepted.
func (s StoreHours) Contains(t time.Time) bool {
	if !s.Declared() {
		return true
	}
	h := s.days[t.Weekday()]
	if h == nil {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= clockMinutes(h.Open) && mins < clockMinutes(h.Close)
}

// Describe names the hours for weekday, for use in reasons and prompts.
func (s StoreHours) Describe(d time.Weekday) string {
	h := s.days[d]
	if h == nil {
		return fmt.Sprintf("the store is closed on %s", d)
	}
	return fmt.Sprintf("%s hours are %s", d, h)
}

// Summary lists the week's hours on one line.
func (s StoreHours) Summary() string {
	parts := make([]string, 0, 7)
	for _, d := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		if h := s.days[d]; h != nil {
			parts = append(parts, fmt.Sprintf("%s %s", d.String()[:3], h))
		} else {
			parts = append(parts, fmt.Sprintf("%s closed", d.String()[:3]))
		}
	}
	return strings.Join(parts, ", ")
}

func clockMinutes(v string) int {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}
