package compliance

import (
	"testing"
	"time"
)

func TestQuietHoursCrossingMidnight(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	q, err := ParseQuietHours("21:00", "08:00", loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	late := time.Date(2025, 3, 10, 22, 30, 0, 0, loc)
	if !q.Suppress(late, PurposeOutreach) {
		t.Fatalf("22:30 should be quiet")
	}
	if q.Suppress(late, PurposeReply) {
		t.Fatalf("replies are never held back")
	}
	if q.Suppress(time.Date(2025, 3, 10, 12, 0, 0, 0, loc), PurposeOutreach) {
		t.Fatalf("noon should not be quiet")
	}
	next := q.NextAllowed(late)
	want := time.Date(2025, 3, 11, 8, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("NextAllowed = %v, want %v", next, want)
	}
	early := time.Date(2025, 3, 11, 6, 0, 0, 0, loc)
	if got := q.NextAllowed(early); !got.Equal(want) {
		t.Fatalf("NextAllowed(early) = %v, want %v", got, want)
	}
}

func TestQuietHoursDisabled(t *testing.T) {
	q, err := ParseQuietHours("", "", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	now := time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)
	if q.Suppress(now, PurposeOutreach) {
		t.Fatalf("disabled window must not suppress")
	}
	if _, err := ParseQuietHours("9pm", "08:00", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
