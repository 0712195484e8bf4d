// Package appointment extracts scheduling intent from lead messages and
// books the resulting visit in the CRM.
package appointment

import (
	"context"
	"fmt"
	"time"
)

// Classification is the kind of scheduling intent found in a message.
type Classification string

const (
	ExactTime   Classification = "EXACT_TIME"
	VagueDate   Classification = "VAGUE_DATE"
	VagueWindow Classification = "VAGUE_WINDOW"
	OpenEnded   Classification = "OPEN_ENDED"
	MultiOption Classification = "MULTI_OPTION"
	Reschedule  Classification = "RESCHEDULE"
	NoIntent    Classification = "NO_INTENT"
)

func (c Classification) valid() bool {
	switch c {
	case ExactTime, VagueDate, VagueWindow, OpenEnded, MultiOption, Reschedule, NoIntent:
		return true
	}
	return false
}

// Window anchors.
const (
	WindowMorning   = "morning"
	WindowAfternoon = "afternoon"
	WindowEvening   = "evening"
)

var windowAnchors = map[string]int{
	WindowMorning:   10,
	WindowAfternoon: 14,
	WindowEvening:   17,
}

// Extraction is the result of reading one message. ISO is RFC 3339 with an
// offset, or empty when no single future time could be resolved.
type Extraction struct {
	Classification Classification `json:"classification"`
	ISO            string         `json:"iso"`
	Confidence     float64        `json:"confidence"`
	Window         string         `json:"window"`
	Reason         string         `json:"reason"`
}

// Time parses ISO. Callers should only use it after Validate.
func (e Extraction) Time() (time.Time, bool) {
	if e.ISO == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, e.ISO)
	return t, err == nil
}

// ResolveRequest carries the text plus the store context needed to anchor it.
type ResolveRequest struct {
	Text     string
	Now      time.Time
	Location *time.Location
	Hours    StoreHours
}

// Resolver turns text into an Extraction.
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (Extraction, error)
}

// ExtractionError marks text that could not be interpreted. It is treated as NO_INTENT.
type ExtractionError struct {
	Text string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("appointment: extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
