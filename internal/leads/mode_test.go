package leads

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Mode
		want     bool
	}{
		{ModeNew, ModeCadence, true},
		{ModeNew, ModeConvo, true},
		{ModeCadence, ModeConvo, true},
		{ModeCadence, ModeInactive, true},
		{ModeConvo, ModeHandoff, true},
		{ModeConvo, ModeOptedOut, true},
		{ModeConvo, ModeCadence, false},
		{ModeCadence, ModeHandoff, false},
		{ModeHandoff, ModeConvo, false},
		{ModeOptedOut, ModeCadence, false},
		{ModeInactive, ModeConvo, false},
		{ModeInactive, ModeInactive, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionToTerminalStopsTimers(t *testing.T) {
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	due := now.Add(time.Hour)
	lead := NewLead("opp-1", now)
	lead.Mode = ModeConvo
	lead.FollowUpDueAt = &due
	lead.SetCadence(CadenceState{Channel: ChannelEmail, DayIndex: 2, NextDueAt: &due})

	if err := lead.Transition(ModeHandoff); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lead.FollowUpDueAt != nil {
		t.Fatalf("expected follow-up timer cleared")
	}
	if lead.CadenceFor(ChannelEmail).NextDueAt != nil {
		t.Fatalf("expected cadence timer cleared")
	}
	if err := lead.Transition(ModeConvo); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition out of terminal mode, got %v", err)
	}
	if lead.Mode != ModeHandoff {
		t.Fatalf("mode changed on rejected transition: %s", lead.Mode)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" opted_out "); err != nil || m != ModeOptedOut {
		t.Fatalf("ParseMode = %v, %v", m, err)
	}
	if _, err := ParseMode("PAUSED"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestNextDueAtFollowsMode(t *testing.T) {
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	early, late := now.Add(time.Hour), now.Add(2*time.Hour)
	lead := NewLead("opp-2", now)
	lead.SetCadence(CadenceState{Channel: ChannelEmail, NextDueAt: &late})
	lead.SetCadence(CadenceState{Channel: ChannelSMS, NextDueAt: &early})
	lead.FollowUpDueAt = &late

	if lead.NextDueAt() != nil {
		t.Fatalf("NEW leads have no timer")
	}
	lead.Mode = ModeCadence
	if got := lead.NextDueAt(); got == nil || !got.Equal(early) {
		t.Fatalf("expected earliest cadence timer, got %v", got)
	}
	lead.Mode = ModeConvo
	if got := lead.NextDueAt(); got == nil || !got.Equal(late) {
		t.Fatalf("expected follow-up timer in CONVO, got %v", got)
	}
}

func TestOptOutFromTerminalMode(t *testing.T) {
	lead := NewLead("lead-2", time.Now())
	lead.Mode = ModeHandoff
	lead.PendingAppointment = &PendingAppointment{ISOTime: "2030-01-01T10:00:00Z"}
	lead.OptOut()
	if lead.Mode != ModeOptedOut {
		t.Fatalf("expected OPTED_OUT, got %s", lead.Mode)
	}
	if lead.PendingAppointment != nil {
		t.Fatalf("expected pending appointment cleared")
	}
}

func TestDecodeLeadNormalisesMode(t *testing.T) {
	lead, err := decodeLead([]byte(`{"key":"opp-1","mode":" cadence "}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if lead.Mode != ModeCadence {
		t.Fatalf("expected CADENCE, got %q", lead.Mode)
	}
	for _, raw := range []string{`{"key":"opp-1"}`, `{"key":"opp-1","mode":"PAUSED"}`, `not json`} {
		if _, err := decodeLead([]byte(raw)); err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}
}
