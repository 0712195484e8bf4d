package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

// Enroll creates a lead from a CRM campaign and, when asked, starts the offer
// cadence on every channel the lead can be reached on. Existing leads,
// including terminal ones, are never re-enrolled.
func (m *Machine) Enroll(ctx context.Context, req EnrollRequest) (Result, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return Result{}, leads.ErrMissingKey
	}
	now := m.cfg.now().UTC()
	lead := leads.NewLead(key, now)
	lead.Name = strings.TrimSpace(req.Name)
	lead.Email = strings.TrimSpace(req.Email)
	lead.Phone = strings.TrimSpace(req.Phone)
	lead.Interest = strings.TrimSpace(req.Interest)

	if req.StartCadence {
		for _, ch := range cadenceChannels {
			if lead.Address(ch) != "" {
				lead.SetCadence(m.deps.Offer.Start(ch, now))
			}
		}
		if len(lead.Cadence) > 0 {
			if err := lead.Transition(leads.ModeCadence); err != nil {
				return Result{}, err
			}
			lead.OfferStartedAt = &now
		}
	}
	if err := m.deps.Store.Create(ctx, lead); err != nil {
		if errors.Is(err, leads.ErrExists) {
			return Result{LeadKey: key}, err
		}
		return Result{LeadKey: key}, fmt.Errorf("engine: enroll %s: %w", key, err)
	}
	st := &step{lead: lead, now: now, prevMode: leads.ModeNew, dirty: true}
	st.res = Result{LeadKey: key, Outcome: OutcomeEnrolled, Mode: lead.Mode}
	m.finish(ctx, TriggerEnroll, st)
	return st.res, nil
}
