package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/compliance"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/notify"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/replygen"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/triage"
)

// HandleInbound runs one step for a customer message.
func (m *Machine) HandleInbound(ctx context.Context, ev InboundEvent) (Result, error) {
	if !ev.Channel.Valid() || (strings.TrimSpace(ev.LeadKey) == "" && strings.TrimSpace(ev.From) == "") {
		return Result{}, ErrInvalidEvent
	}
	ctx, span := tracer.Start(ctx, "engine.inbound")
	defer span.End()
	span.SetAttributes(attribute.String("lead.channel", string(ev.Channel)))

	key, err := m.resolveKey(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	if err := m.ensureLead(ctx, key, ev); err != nil {
		return Result{LeadKey: key}, err
	}
	release, err := m.acquire(ctx, key, inboundLeaseTries)
	if err != nil {
		return Result{LeadKey: key, Outcome: OutcomeSkipped}, err
	}
	defer release()

	return m.process(ctx, key, TriggerInbound, func(ctx context.Context, st *step) {
		m.inboundStep(ctx, st, ev)
	})
}

func (m *Machine) resolveKey(ctx context.Context, ev InboundEvent) (string, error) {
	if key := strings.TrimSpace(ev.LeadKey); key != "" {
		return key, nil
	}
	lead, err := m.deps.Store.FindByContact(ctx, ev.Channel, ev.From)
	if err == nil {
		return lead.Key, nil
	}
	if !errors.Is(err, leads.ErrNotFound) {
		return "", fmt.Errorf("engine: resolve lead: %w", err)
	}
	return ContactKey(ev.Channel, ev.From), nil
}

// ensureLead creates a NEW lead on first contact.
func (m *Machine) ensureLead(ctx context.Context, key string, ev InboundEvent) error {
	_, err := m.deps.Store.FindByKey(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, leads.ErrNotFound) {
		return fmt.Errorf("engine: load %s: %w", key, err)
	}
	lead := leads.NewLead(key, m.cfg.now())
	lead.Name = ev.Name
	switch ev.Channel {
	case leads.ChannelEmail:
		lead.Email = ev.From
	case leads.ChannelSMS:
		lead.Phone = ev.From
	}
	if err := m.deps.Store.Create(ctx, lead); err != nil && !errors.Is(err, leads.ErrExists) {
		return fmt.Errorf("engine: create %s: %w", key, err)
	}
	m.logger.Info("engine: lead created from inbound contact", "lead_key", key, "channel", ev.Channel)
	return nil
}

func (m *Machine) inboundStep(ctx context.Context, st *step, ev InboundEvent) {
	lead := st.lead
	if ev.ProviderMessageID != "" && lead.LastInboundMessageID == ev.ProviderMessageID {
		m.logger.Info("engine: duplicate inbound discarded", "lead_key", lead.Key, "message_id", ev.ProviderMessageID)
		st.outcome(OutcomeDuplicate)
		return
	}
	text := customerText(ev)
	m.recordInbound(st, ev, text)

	// The lead is talking to us now; no timer keeps running past this point.
	lead.StopCadence()
	lead.StopFollowUps()

	if lead.Compliance.Suppressed {
		if lead.Mode != leads.ModeOptedOut {
			lead.OptOut()
		}
		st.outcome(OutcomeSuppressed)
		return
	}
	d := m.deps.Compliance.Inbound(ctx, lead, ev.Channel, text, st.now)
	if d.OptOut {
		m.optOut(ctx, st, ev.Channel, d.Term)
		return
	}
	if !d.Allow {
		lead.OptOut()
		m.cfg.metrics.ObserveSuppression(lead.Compliance.Reason)
		st.outcome(OutcomeSuppressed)
		return
	}

	switch lead.Mode {
	case leads.ModeOptedOut, leads.ModeInactive:
		st.outcome(OutcomeTerminal)
		return
	case leads.ModeHandoff:
		m.inboundHandoff(ctx, st, ev, text)
		return
	case leads.ModeNew, leads.ModeCadence:
		if err := lead.Transition(leads.ModeConvo); err != nil {
			m.logger.Error("engine: transition failed", "lead_key", lead.Key, "error", err)
			return
		}
	}

	v := m.triage(ctx, st, ev, text)
	switch v.Classification {
	case triage.NonLead:
		// A bounce or an unmonitored mailbox will never answer a follow-up.
		if v.Transient {
			m.armFollowUp(st, st.now.Add(m.deps.FollowUp.Plan().Interval))
		}
		st.outcome(OutcomeNonLead)
	case triage.ExplicitOptOut:
		at := st.now
		lead.Compliance = leads.Compliance{Suppressed: true, Reason: compliance.ReasonOptOut, Channel: ev.Channel, At: &at}
		m.optOut(ctx, st, ev.Channel, v.Reason)
	case triage.HumanReviewRequired:
		lead.FollowUpCount = 0
		m.handoff(ctx, st, ev.Channel, v.Reason, text)
	default:
		lead.FollowUpCount = 0
		m.autoReply(ctx, st, ev, text)
	}
}

func customerText(ev InboundEvent) string {
	if ev.Channel == leads.ChannelEmail {
		if text := triage.CustomerText(ev.Text); text != "" {
			return text
		}
	}
	return strings.TrimSpace(ev.Text)
}

func (m *Machine) recordInbound(st *step, ev InboundEvent, text string) {
	lead := st.lead
	st.dirty = true
	if lead.Name == "" && ev.Name != "" {
		lead.Name = ev.Name
	}
	if lead.Address(ev.Channel) == "" && ev.From != "" {
		switch ev.Channel {
		case leads.ChannelEmail:
			lead.Email = ev.From
		case leads.ChannelSMS:
			lead.Phone = ev.From
		}
	}
	at := ev.Timestamp.UTC()
	if ev.Timestamp.IsZero() {
		at = st.now
	}
	lead.Append(leads.Message{
		Direction:         leads.DirectionInbound,
		Channel:           ev.Channel,
		Text:              text,
		At:                at,
		ProviderMessageID: ev.ProviderMessageID,
	})
	if ev.ProviderMessageID != "" {
		lead.LastInboundMessageID = ev.ProviderMessageID
	}
	lead.LastInboundAt = &at
}

func (m *Machine) triage(ctx context.Context, st *step, ev InboundEvent, text string) triage.Verdict {
	v := m.deps.Triage.Triage(ctx, triage.Input{Text: text, From: ev.From})
	st.res.Triage = &v
	m.cfg.metrics.ObserveTriage(string(v.Classification), string(v.Source))
	m.logger.Info("engine: triage",
		"lead_key", st.lead.Key,
		"classification", v.Classification,
		"confidence", v.Confidence,
		"source", v.Source,
		"reason", v.Reason,
	)
	return v
}

// optOut finalises a fresh opt-out and sends the single confirmation.
func (m *Machine) optOut(ctx context.Context, st *step, ch leads.Channel, term string) {
	lead := st.lead
	lead.OptOut()
	st.outcome(OutcomeOptedOut)
	m.cfg.metrics.ObserveSuppression(compliance.ReasonOptOut)
	m.logger.Info("engine: lead opted out", "lead_key", lead.Key, "channel", ch, "term", term)
	if err := m.send(ctx, st, ch, "Unsubscribe confirmation", compliance.ConfirmationText(ch)); err != nil {
		m.logger.Error("engine: opt-out confirmation failed", "lead_key", lead.Key, "channel", ch, "error", err)
	}
	m.comment(ctx, lead.Key, fmt.Sprintf("Customer opted out via %s (%q). All automated contact stopped.", ch, term))
}

// handoff flags the lead for a person and sends the notification still owed.
func (m *Machine) handoff(ctx context.Context, st *step, ch leads.Channel, reason, lastMessage string) {
	lead := st.lead
	owed := triage.MarkForReview(lead, reason)
	st.dirty = true
	if lead.Mode != leads.ModeHandoff {
		if err := lead.Transition(leads.ModeHandoff); err != nil {
			m.logger.Error("engine: transition failed", "lead_key", lead.Key, "error", err)
		}
	}
	st.outcome(OutcomeHandoff)
	if !owed {
		return
	}
	m.notifyHandoff(ctx, st, ch, lastMessage)
}

func (m *Machine) notifyHandoff(ctx context.Context, st *step, ch leads.Channel, lastMessage string) {
	lead := st.lead
	err := m.deps.Notifier.NotifyHandoff(ctx, notify.HandoffNotice{
		LeadKey:     lead.Key,
		Name:        lead.Name,
		Email:       lead.Email,
		Phone:       lead.Phone,
		Channel:     string(ch),
		Reason:      lead.HumanReview.Reason,
		LastMessage: lastMessage,
		At:          st.now,
	})
	if err != nil {
		m.logger.Error("engine: handoff notification failed", "lead_key", lead.Key, "error", err)
		return
	}
	st.effects = true
	triage.MarkNotified(lead, st.now)
	m.comment(ctx, lead.Key, "Handed off to sales: "+lead.HumanReview.Reason)
}

// inboundHandoff keeps a handed-off lead's review reason current and retries
// a notification that never went out. It never replies.
func (m *Machine) inboundHandoff(ctx context.Context, st *step, ev InboundEvent, text string) {
	lead := st.lead
	st.outcome(OutcomeTerminal)
	v := m.triage(ctx, st, ev, text)
	if v.Classification == triage.HumanReviewRequired {
		triage.MarkForReview(lead, v.Reason)
		st.outcome(OutcomeHandoff)
	}
	if lead.HumanReview.Needed && lead.HumanReview.NotifiedAt == nil {
		m.notifyHandoff(ctx, st, ev.Channel, text)
	}
}

func (m *Machine) autoReply(ctx context.Context, st *step, ev InboundEvent, text string) {
	lead := st.lead
	ex := m.deps.Extractor.Extract(ctx, text, st.now)
	st.res.Appointment = &ex
	m.cfg.metrics.ObserveAppointment(string(ex.Classification))

	rc := m.replyContext(lead, replygen.KindAutoReply, ev.Channel)
	rc.History = lead.ConversationLog[:len(lead.ConversationLog)-1]
	rc.Inbound = text
	rc.Appointment = &ex

	if m.deps.Scheduler.Eligible(ex) {
		out := m.deps.Scheduler.Apply(ctx, lead, ex, text, st.now)
		if out.Scheduled || out.Notified {
			st.effects = true
		}
		if out.Scheduled && lead.Appointment != nil {
			rc.Booked = lead.Appointment.StartsAt.In(m.deps.Extractor.Location()).Format("Monday, January 2 at 3:04 PM")
		}
	}

	reply, err := m.deps.Generator.Generate(ctx, rc)
	if err != nil {
		m.logger.Error("engine: reply generation failed", "lead_key", lead.Key, "error", err)
		m.armFollowUp(st, st.now)
		st.outcome(OutcomeDeliveryFailed)
		return
	}
	if reply.NeedsHandoff {
		m.logger.Info("engine: generator suggested handoff", "lead_key", lead.Key, "reason", reply.HandoffReason)
	}
	if err := m.send(ctx, st, ev.Channel, reply.Subject, reply.Body); err != nil {
		m.logger.Error("engine: auto-reply delivery failed", "lead_key", lead.Key, "channel", ev.Channel, "error", err)
		m.armFollowUp(st, st.now)
		st.outcome(OutcomeDeliveryFailed)
		return
	}
	m.armFollowUp(st, st.now.Add(m.deps.FollowUp.Plan().Interval))
	st.outcome(OutcomeReplied)
}

func (m *Machine) armFollowUp(st *step, at time.Time) {
	due := at.UTC()
	st.lead.FollowUpDueAt = &due
	st.dirty = true
}
