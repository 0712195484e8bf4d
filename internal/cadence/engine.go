// Package cadence runs day-indexed outreach plans.
package cadence

import (
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/compliance"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

// Content is one day's touch. Placeholders {name}, {interest} and {dealer}
// are filled in by the reply generator.
type Content struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
	SMS     string `json:"sms"`
}

// Text returns the body for ch.
func (c Content) Text(ch leads.Channel) string {
	if ch == leads.ChannelSMS {
		return c.SMS
	}
	return c.Email
}

// Expiry jumps the cadence forward once a time-boxed offer lapses.
type Expiry struct {
	ValidFor  time.Duration
	JumpToDay int
}

// Plan is a day-content table. Days beyond Limit, or without content when
// Fallback is empty, end the cadence.
type Plan struct {
	Name     string
	Days     map[int]Content
	Fallback *Content
	// Limit caps the number of touches; zero means no cap.
	Limit    int
	Interval time.Duration
	Expiry   *Expiry
}

// ContentFor returns the content for day.
func (p Plan) ContentFor(day int) (Content, bool) {
	if day < 0 || (p.Limit > 0 && day >= p.Limit) {
		return Content{}, false
	}
	if c, ok := p.Days[day]; ok {
		return c, true
	}
	if p.Fallback != nil {
		return *p.Fallback, true
	}
	return Content{}, false
}

// Action is what a tick should do.
type Action string

const (
	ActionNotDue    Action = "not_due"
	ActionSend      Action = "send"
	ActionExhausted Action = "exhausted"
	ActionDeferred  Action = "deferred"
)

// Decision is the outcome of evaluating one channel's state.
type Decision struct {
	Action     Action
	Day        int
	Content    Content
	DeferUntil time.Time
}

// Engine evaluates a Plan against per-channel cadence state.
type Engine struct {
	plan  Plan
	quiet compliance.QuietHours
}

// New returns an engine for plan. SMS touches falling inside quiet are deferred.
func New(plan Plan, quiet compliance.QuietHours) *Engine {
	if plan.Interval <= 0 {
		plan.Interval = 24 * time.Hour
	}
	return &Engine{plan: plan, quiet: quiet}
}

// Plan returns the engine's plan.
func (e *Engine) Plan() Plan {
	return e.plan
}

// EffectiveDay is st.DayIndex, moved forward to the expiry day once the
// offer window that started at offerStart has lapsed.
func (e *Engine) EffectiveDay(st leads.CadenceState, offerStart *time.Time, now time.Time) int {
	day := st.DayIndex
	exp := e.plan.Expiry
	if exp == nil || exp.ValidFor <= 0 || offerStart == nil {
		return day
	}
	if !now.Before(offerStart.Add(exp.ValidFor)) && day < exp.JumpToDay {
		return exp.JumpToDay
	}
	return day
}

// Decide evaluates a tick for one channel without changing state.
func (e *Engine) Decide(st leads.CadenceState, offerStart *time.Time, now time.Time) Decision {
	if st.NextDueAt == nil || st.NextDueAt.After(now) {
		return Decision{Action: ActionNotDue}
	}
	day := e.EffectiveDay(st, offerStart, now)
	content, ok := e.plan.ContentFor(day)
	if !ok {
		if until, wait := e.awaitExpiry(day, offerStart, now); wait {
			return Decision{Action: ActionDeferred, Day: day, DeferUntil: until}
		}
		return Decision{Action: ActionExhausted, Day: day}
	}
	if st.Channel == leads.ChannelSMS && e.quiet.Suppress(now, compliance.PurposeOutreach) {
		return Decision{Action: ActionDeferred, Day: day, DeferUntil: e.quiet.NextAllowed(now)}
	}
	return Decision{Action: ActionSend, Day: day, Content: content}
}

// awaitExpiry reports whether a day without content still has the expiry
// touch ahead of it, and when that touch becomes due.
func (e *Engine) awaitExpiry(day int, offerStart *time.Time, now time.Time) (time.Time, bool) {
	exp := e.plan.Expiry
	if exp == nil || exp.ValidFor <= 0 || offerStart == nil || day >= exp.JumpToDay {
		return time.Time{}, false
	}
	until := offerStart.Add(exp.ValidFor)
	return until, now.Before(until)
}

// Advance records a successful send of day. DayIndex never moves backwards.
func (e *Engine) Advance(st leads.CadenceState, day int, now time.Time) leads.CadenceState {
	sent := now.UTC()
	next := sent.Add(e.plan.Interval)
	if day+1 > st.DayIndex {
		st.DayIndex = day + 1
	}
	st.LastSentAt = &sent
	st.NextDueAt = &next
	return st
}

// Defer moves the next due time without advancing the day.
func (e *Engine) Defer(st leads.CadenceState, until time.Time) leads.CadenceState {
	u := until.UTC()
	st.NextDueAt = &u
	return st
}

// Start arms a fresh channel, due at now.
func (e *Engine) Start(ch leads.Channel, now time.Time) leads.CadenceState {
	due := now.UTC()
	return leads.CadenceState{Channel: ch, NextDueAt: &due}
}

// FollowUpState views the generic follow-up counters as cadence state.
func FollowUpState(l *leads.Lead) leads.CadenceState {
	return leads.CadenceState{DayIndex: l.FollowUpCount, NextDueAt: l.FollowUpDueAt}
}

// SetFollowUpState writes follow-up state back onto l.
func SetFollowUpState(l *leads.Lead, st leads.CadenceState) {
	l.FollowUpCount = st.DayIndex
	l.FollowUpDueAt = st.NextDueAt
}
