package compliance

import (
	"fmt"
	"time"
)

// Purpose distinguishes conversational replies from cadence outreach.
type Purpose string

const (
	PurposeReply    Purpose = "reply"
	PurposeOutreach Purpose = "outreach"
)

// QuietHours is a daily local window during which SMS outreach is held back.
type QuietHours struct {
	StartMinutes int
	EndMinutes   int
	location     *time.Location
	enabled      bool
}

// ParseQuietHours returns a quiet-hours window from HH:MM strings. Empty bounds disable it.
func ParseQuietHours(start, end string, loc *time.Location) (QuietHours, error) {
	if start == "" || end == "" {
		return QuietHours{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	startMin, err := parseClock(start)
	if err != nil {
		return QuietHours{}, fmt.Errorf("compliance: parse quiet hours start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return QuietHours{}, fmt.Errorf("compliance: parse quiet hours end: %w", err)
	}
	return QuietHours{
		StartMinutes: startMin,
		EndMinutes:   endMin,
		location:     loc,
		enabled:      startMin != endMin,
	}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Suppress reports whether an outreach send at now falls inside the window.
func (q QuietHours) Suppress(now time.Time, purpose Purpose) bool {
	if !q.enabled || purpose != PurposeOutreach {
		return false
	}
	minutes := q.minutesOf(now)
	if q.StartMinutes < q.EndMinutes {
		return minutes >= q.StartMinutes && minutes < q.EndMinutes
	}
	// Window crosses midnight.
	return minutes >= q.StartMinutes || minutes < q.EndMinutes
}

// NextAllowed returns the end of the quiet window containing now, or now when outside it.
func (q QuietHours) NextAllowed(now time.Time) time.Time {
	if !q.Suppress(now, PurposeOutreach) {
		return now
	}
	local := now.In(q.location)
	end := time.Date(local.Year(), local.Month(), local.Day(), q.EndMinutes/60, q.EndMinutes%60, 0, 0, q.location)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func (q QuietHours) minutesOf(now time.Time) int {
	local := now.In(q.location)
	return local.Hour()*60 + local.Minute()
}
