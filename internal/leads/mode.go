package leads

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is the lead's position in the engagement lifecycle.
type Mode string

const (
	ModeNew      Mode = "NEW"
	ModeCadence  Mode = "CADENCE"
	ModeConvo    Mode = "CONVO"
	ModeHandoff  Mode = "HANDOFF"
	ModeOptedOut Mode = "OPTED_OUT"
	ModeInactive Mode = "INACTIVE"
)

var transitions = map[Mode][]Mode{
	ModeNew:     {ModeCadence, ModeConvo, ModeOptedOut, ModeInactive},
	ModeCadence: {ModeConvo, ModeOptedOut, ModeInactive},
	ModeConvo:   {ModeHandoff, ModeOptedOut, ModeInactive},
}

// ParseMode validates a stored mode string.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case ModeNew, ModeCadence, ModeConvo, ModeHandoff, ModeOptedOut, ModeInactive:
		return m, nil
	}
	return "", fmt.Errorf("leads: unknown mode %q", s)
}

// decodeLead unmarshals a stored record and rejects an unknown mode.
func decodeLead(data []byte) (*Lead, error) {
	var lead Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		return nil, fmt.Errorf("leads: decode failed: %w", err)
	}
	mode, err := ParseMode(string(lead.Mode))
	if err != nil {
		return nil, fmt.Errorf("leads: decode %s: %w", lead.Key, err)
	}
	lead.Mode = mode
	return &lead, nil
}

// Terminal modes admit no outgoing transitions.
func (m Mode) Terminal() bool {
	return m == ModeHandoff || m == ModeOptedOut || m == ModeInactive
}

// CanTransition reports whether from -> to is allowed. Staying in the same mode is always allowed.
func CanTransition(from, to Mode) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a mode change.
func (l *Lead) Transition(to Mode) error {
	if !CanTransition(l.Mode, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Mode, to)
	}
	l.Mode = to
	if to.Terminal() {
		l.StopCadence()
		l.StopFollowUps()
	}
	return nil
}

// OptOut moves the lead to OPTED_OUT from any mode. Compliance outranks the
// transition table, including for already-terminal leads.
func (l *Lead) OptOut() {
	l.Mode = ModeOptedOut
	l.StopCadence()
	l.StopFollowUps()
	l.PendingAppointment = nil
}
