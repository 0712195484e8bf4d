// Package engine is the lead state machine: every inbound message and due
// tick runs load, dedupe, gates, at most one outbound action, then persist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/appointment"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/cadence"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/compliance"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/crm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/notify"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/outbound"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/replygen"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/triage"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

var tracer = otel.Tracer("leadengine.engine")

const (
	maxPersistAttempts = 3
	inboundLeaseTries  = 3
	defaultLeaseTTL    = 2 * time.Minute
)

// Deps are the collaborators every step needs.
type Deps struct {
	Store      leads.Store
	Compliance *compliance.Gate
	Triage     *triage.Gate
	Extractor  *appointment.Extractor
	Scheduler  *appointment.Scheduler
	Offer      *cadence.Engine
	FollowUp   *cadence.Engine
	Generator  replygen.Generator
	Outbound   outbound.Dispatcher
	Notifier   notify.StaffNotifier
}

func (d Deps) validate() error {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("store", d.Store != nil)
	check("compliance", d.Compliance != nil)
	check("triage", d.Triage != nil)
	check("extractor", d.Extractor != nil)
	check("scheduler", d.Scheduler != nil)
	check("offer cadence", d.Offer != nil)
	check("follow-up cadence", d.FollowUp != nil)
	check("generator", d.Generator != nil)
	check("outbound", d.Outbound != nil)
	check("notifier", d.Notifier != nil)
	if len(missing) > 0 {
		return fmt.Errorf("engine: missing dependencies: %v", missing)
	}
	return nil
}

type machineConfig struct {
	leaser         leads.Leaser
	leaseTTL       time.Duration
	leaseRetryWait time.Duration
	comments       crm.CRM
	archiver       Archiver
	ticks          TickScheduler
	metrics        Metrics
	persona        replygen.Persona
	now            func() time.Time
}

// Option configures optional collaborators.
type Option func(*machineConfig)

// WithLeaser serialises work per lead. Ticks skip leased leads; inbound
// events wait briefly before giving up with ErrBusy.
func WithLeaser(l leads.Leaser, ttl time.Duration) Option {
	return func(c *machineConfig) {
		c.leaser = l
		if ttl > 0 {
			c.leaseTTL = ttl
		}
	}
}

// WithCRMComments records handoffs and opt-outs as CRM comments.
func WithCRMComments(c crm.CRM) Option {
	return func(cfg *machineConfig) { cfg.comments = c }
}

// WithArchiver archives leads when they reach a terminal mode.
func WithArchiver(a Archiver) Option {
	return func(c *machineConfig) { c.archiver = a }
}

// WithTickScheduler requests a precise tick whenever a timer is armed.
func WithTickScheduler(t TickScheduler) Option {
	return func(c *machineConfig) { c.ticks = t }
}

func WithMetrics(m Metrics) Option {
	return func(c *machineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithPersona(p replygen.Persona) Option {
	return func(c *machineConfig) { c.persona = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *machineConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Machine runs lead steps.
type Machine struct {
	deps   Deps
	cfg    machineConfig
	logger *logging.Logger
}

// New validates deps and returns a Machine.
func New(deps Deps, logger *logging.Logger, opts ...Option) (*Machine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := machineConfig{
		leaseTTL:       defaultLeaseTTL,
		leaseRetryWait: 250 * time.Millisecond,
		metrics:        nopMetrics{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Machine{deps: deps, cfg: cfg, logger: logger}, nil
}

// step is the mutable state of one run against a loaded lead.
type step struct {
	lead     *leads.Lead
	now      time.Time
	prevMode leads.Mode
	res      Result
	// dirty means the lead must be written back.
	dirty bool
	// effects means an external side effect already happened, so a
	// conflicting write cannot be retried by re-running the step.
	effects bool
}

func (s *step) outcome(o Outcome) {
	s.res.Outcome = o
}

// process loads key, runs fn and persists the result with a hash compare.
func (m *Machine) process(ctx context.Context, key string, trigger Trigger, fn func(context.Context, *step)) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < maxPersistAttempts; attempt++ {
		lead, err := m.deps.Store.FindByKey(ctx, key)
		if err != nil {
			return Result{LeadKey: key}, fmt.Errorf("engine: load %s: %w", key, err)
		}
		st := &step{lead: lead, now: m.cfg.now().UTC(), prevMode: lead.Mode}
		st.res.LeadKey = key
		fn(ctx, st)
		st.res.Mode = lead.Mode
		if st.res.Outcome == "" {
			st.res.Outcome = OutcomeNoop
		}
		if !st.dirty {
			m.finish(ctx, trigger, st)
			return st.res, nil
		}
		err = m.deps.Store.Patch(ctx, lead, lead.Hash)
		if err == nil {
			m.finish(ctx, trigger, st)
			return st.res, nil
		}
		if !st.effects {
			if errors.Is(err, leads.ErrConflict) {
				m.logger.Info("engine: lead changed underneath step, retrying", "lead_key", key, "attempt", attempt+1)
				lastErr = err
				continue
			}
			m.cfg.metrics.ObserveStep(string(trigger), "persist_failed")
			m.logger.Error("engine: persist failed", "lead_key", key, "outcome", st.res.Outcome, "error", err)
			return st.res, fmt.Errorf("engine: persist %s: %w", key, err)
		}
		m.logger.Warn("engine: persist failed after side effects, recommitting", "lead_key", key, "outcome", st.res.Outcome, "error", err)
		if err = m.commit(ctx, lead); err == nil {
			m.finish(ctx, trigger, st)
			return st.res, nil
		}
		m.cfg.metrics.ObserveStep(string(trigger), "persist_failed")
		m.logger.Error("engine: persist failed, side effects already happened", "lead_key", key, "outcome", st.res.Outcome, "error", err)
		return st.res, fmt.Errorf("engine: persist %s: %w: %w", key, ErrEffectsCommitted, err)
	}
	return Result{LeadKey: key}, fmt.Errorf("engine: persist %s: %w", key, lastErr)
}

// commit writes a lead whose step already produced side effects. The step
// is never re-run: the stepped lead replaces the stored record, except that a
// suppression recorded in the meantime is kept.
func (m *Machine) commit(ctx context.Context, lead *leads.Lead) error {
	var err error
	for attempt := 0; attempt < maxPersistAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var stored *leads.Lead
		stored, err = m.deps.Store.FindByKey(ctx, lead.Key)
		if err != nil {
			continue
		}
		if stored.Compliance.Suppressed && !lead.Compliance.Suppressed {
			lead.Compliance = stored.Compliance
			lead.OptOut()
		}
		if err = m.deps.Store.Patch(ctx, lead, stored.Hash); err == nil {
			return nil
		}
	}
	return err
}

func (m *Machine) finish(ctx context.Context, trigger Trigger, st *step) {
	m.cfg.metrics.ObserveStep(string(trigger), string(st.res.Outcome))
	if !st.dirty {
		return
	}
	lead := st.lead
	if lead.Mode.Terminal() && !st.prevMode.Terminal() && m.cfg.archiver != nil {
		if err := m.cfg.archiver.ArchiveLead(ctx, lead); err != nil {
			m.logger.Warn("engine: archive failed", "lead_key", lead.Key, "error", err)
		}
	}
	if next := lead.NextDueAt(); next != nil && m.cfg.ticks != nil {
		if err := m.cfg.ticks.ScheduleTick(ctx, lead.Key, *next); err != nil {
			m.logger.Warn("engine: schedule tick failed", "lead_key", lead.Key, "due_at", *next, "error", err)
		}
	}
}

// acquire takes the lead's lease. The returned release is never nil on success.
func (m *Machine) acquire(ctx context.Context, key string, tries int) (func(), error) {
	if m.cfg.leaser == nil {
		return func() {}, nil
	}
	for i := 0; i < tries; i++ {
		token, ok, err := m.cfg.leaser.AcquireLease(ctx, key, m.cfg.leaseTTL)
		if err != nil {
			return nil, fmt.Errorf("engine: acquire lease: %w", err)
		}
		if ok {
			return func() {
				if err := m.cfg.leaser.ReleaseLease(context.WithoutCancel(ctx), key, token); err != nil {
					m.logger.Warn("engine: release lease failed", "lead_key", key, "error", err)
				}
			}, nil
		}
		if i < tries-1 {
			timer := time.NewTimer(m.cfg.leaseRetryWait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, ErrBusy
}

// send delivers one lead-facing message and logs it on the conversation.
func (m *Machine) send(ctx context.Context, st *step, ch leads.Channel, subject, body string) error {
	lead := st.lead
	msg := outbound.Message{
		LeadKey: lead.Key,
		Channel: ch,
		To:      lead.Address(ch),
		Subject: subject,
		Body:    body,
	}
	receipt, err := m.deps.Outbound.Send(ctx, msg)
	if err != nil {
		return err
	}
	st.effects = true
	st.dirty = true
	at := receipt.SentAt
	if at.IsZero() {
		at = st.now
	}
	lead.Append(leads.Message{
		Direction:         leads.DirectionOutbound,
		Channel:           ch,
		Text:              body,
		At:                at,
		ProviderMessageID: receipt.ProviderMessageID,
	})
	st.res.Sent = &msg
	return nil
}

func (m *Machine) comment(ctx context.Context, key, text string) {
	if m.cfg.comments == nil {
		return
	}
	if err := m.cfg.comments.AddComment(ctx, key, text); err != nil {
		m.logger.Warn("engine: crm comment failed", "lead_key", key, "error", err)
	}
}

// outboundAllowed re-verifies suppression right before a tick-driven send.
func (m *Machine) outboundAllowed(ctx context.Context, st *step, ch leads.Channel) bool {
	d := m.deps.Compliance.Outbound(ctx, st.lead, ch, st.now)
	if d.Allow {
		return true
	}
	st.lead.OptOut()
	st.dirty = true
	st.outcome(OutcomeSuppressed)
	m.cfg.metrics.ObserveSuppression(st.lead.Compliance.Reason)
	return false
}

func (m *Machine) replyContext(lead *leads.Lead, kind replygen.Kind, ch leads.Channel) replygen.ReplyContext {
	return replygen.ReplyContext{
		Kind:     kind,
		Channel:  ch,
		Persona:  m.cfg.persona,
		LeadName: lead.Name,
		Interest: lead.Interest,
		History:  lead.ConversationLog,
	}
}

// preferredChannel is where follow-ups go: the channel of the last inbound
// message when still addressable, else email, else SMS.
func preferredChannel(lead *leads.Lead) leads.Channel {
	for i := len(lead.ConversationLog) - 1; i >= 0; i-- {
		msg := lead.ConversationLog[i]
		if msg.Direction == leads.DirectionInbound && lead.Address(msg.Channel) != "" {
			return msg.Channel
		}
	}
	if lead.Email != "" {
		return leads.ChannelEmail
	}
	return leads.ChannelSMS
}
