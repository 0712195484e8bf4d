package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/cadence"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/provider"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/replygen"
)

var cadenceChannels = []leads.Channel{leads.ChannelEmail, leads.ChannelSMS}

// HandleTick evaluates a lead's timers. A lead whose lease is held elsewhere
// is skipped without error.
func (m *Machine) HandleTick(ctx context.Context, tick DueTick) (Result, error) {
	ctx, span := tracer.Start(ctx, "engine.tick")
	defer span.End()
	span.SetAttributes(attribute.String("lead.key", tick.LeadKey))

	release, err := m.acquire(ctx, tick.LeadKey, 1)
	switch {
	case errors.Is(err, ErrBusy):
		m.cfg.metrics.ObserveStep(string(TriggerTick), string(OutcomeSkipped))
		return Result{LeadKey: tick.LeadKey, Outcome: OutcomeSkipped}, nil
	case errors.Is(err, leads.ErrNotFound):
		return Result{LeadKey: tick.LeadKey, Outcome: OutcomeSkipped}, nil
	case err != nil:
		return Result{LeadKey: tick.LeadKey}, err
	}
	defer release()

	return m.process(ctx, tick.LeadKey, TriggerTick, m.tickStep)
}

func (m *Machine) tickStep(ctx context.Context, st *step) {
	lead := st.lead
	if lead.Mode.Terminal() {
		st.outcome(OutcomeTerminal)
		if cadencePending(lead) || lead.FollowUpDueAt != nil {
			lead.StopCadence()
			lead.StopFollowUps()
			st.dirty = true
		}
		return
	}
	if lead.Compliance.Suppressed {
		lead.OptOut()
		st.dirty = true
		st.outcome(OutcomeSuppressed)
		return
	}
	switch lead.Mode {
	case leads.ModeCadence:
		m.cadenceTick(ctx, st)
	case leads.ModeConvo:
		m.convoTick(ctx, st)
	}
}

// cadenceTick sends at most one due cadence touch across channels.
func (m *Machine) cadenceTick(ctx context.Context, st *step) {
	lead := st.lead
	offer := m.deps.Offer
	sent := false
	for _, ch := range cadenceChannels {
		cs, ok := lead.Cadence[ch]
		if !ok {
			continue
		}
		d := offer.Decide(cs, lead.OfferStartedAt, st.now)
		switch d.Action {
		case cadence.ActionNotDue:
		case cadence.ActionExhausted:
			cs.NextDueAt = nil
			lead.SetCadence(cs)
			st.dirty = true
		case cadence.ActionDeferred:
			lead.SetCadence(offer.Defer(cs, d.DeferUntil))
			st.dirty = true
			if !sent {
				st.outcome(OutcomeDeferred)
			}
		case cadence.ActionSend:
			if sent {
				continue
			}
			if lead.Address(ch) == "" {
				cs.NextDueAt = nil
				lead.SetCadence(cs)
				st.dirty = true
				continue
			}
			if !m.outboundAllowed(ctx, st, ch) {
				return
			}
			if err := m.touch(ctx, st, replygen.KindCadence, ch, d.Content); err != nil {
				if provider.IsPermanent(err) {
					cs.NextDueAt = nil
					lead.SetCadence(cs)
					st.dirty = true
				}
				continue
			}
			lead.SetCadence(offer.Advance(cs, d.Day, st.now))
			m.cfg.metrics.ObserveCadenceSend(offer.Plan().Name, string(ch))
			st.outcome(OutcomeSent)
			sent = true
		}
	}
	if !cadencePending(lead) {
		m.deactivate(st, "cadence exhausted")
	}
}

func cadencePending(lead *leads.Lead) bool {
	for _, cs := range lead.Cadence {
		if cs.NextDueAt != nil {
			return true
		}
	}
	return false
}

// convoTick retries owed appointment effects and runs the follow-up drip.
func (m *Machine) convoTick(ctx context.Context, st *step) {
	lead := st.lead
	if p := lead.PendingAppointment; p != nil && p.RetryAt != nil && !p.RetryAt.After(st.now) {
		out := m.deps.Scheduler.RetryDue(ctx, lead, st.now)
		st.dirty = true
		if out.Scheduled || out.Notified {
			st.effects = true
		}
	}

	followUp := m.deps.FollowUp
	fs := cadence.FollowUpState(lead)
	fs.Channel = preferredChannel(lead)
	d := followUp.Decide(fs, nil, st.now)
	switch d.Action {
	case cadence.ActionNotDue:
	case cadence.ActionExhausted:
		m.deactivate(st, "max follow-ups reached")
	case cadence.ActionDeferred:
		cadence.SetFollowUpState(lead, followUp.Defer(fs, d.DeferUntil))
		st.dirty = true
		st.outcome(OutcomeDeferred)
	case cadence.ActionSend:
		if lead.Address(fs.Channel) == "" {
			m.deactivate(st, "no reachable address")
			return
		}
		if !m.outboundAllowed(ctx, st, fs.Channel) {
			return
		}
		if err := m.touch(ctx, st, replygen.KindFollowUp, fs.Channel, d.Content); err != nil {
			if provider.IsPermanent(err) {
				m.deactivate(st, "permanent delivery failure")
			}
			return
		}
		cadence.SetFollowUpState(lead, followUp.Advance(fs, d.Day, st.now))
		m.cfg.metrics.ObserveCadenceSend(followUp.Plan().Name, string(fs.Channel))
		st.outcome(OutcomeSent)
	}
}

// touch drafts and sends one cadence or follow-up message.
func (m *Machine) touch(ctx context.Context, st *step, kind replygen.Kind, ch leads.Channel, content cadence.Content) error {
	lead := st.lead
	rc := m.replyContext(lead, kind, ch)
	rc.Template = &content
	reply, err := m.deps.Generator.Generate(ctx, rc)
	if err == nil {
		err = m.send(ctx, st, ch, reply.Subject, reply.Body)
	}
	if err != nil {
		m.logger.Error("engine: touch failed", "lead_key", lead.Key, "kind", kind, "channel", ch, "error", err)
		if !st.effects {
			st.outcome(OutcomeDeliveryFailed)
		}
	}
	return err
}

func (m *Machine) deactivate(st *step, why string) {
	if err := st.lead.Transition(leads.ModeInactive); err != nil {
		m.logger.Error("engine: transition failed", "lead_key", st.lead.Key, "error", err)
		return
	}
	st.dirty = true
	m.logger.Info("engine: lead inactive", "lead_key", st.lead.Key, "reason", why)
	if st.res.Outcome != OutcomeSent {
		st.outcome(OutcomeInactive)
	}
}
