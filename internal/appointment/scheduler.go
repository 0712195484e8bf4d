package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/crm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/notify"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// DefaultThreshold is the minimum confidence for booking without a person.
const DefaultThreshold = 0.80

// Outcome reports what Apply did. The booking and the staff notice are
// independent: either may fail while the other succeeds.
type Outcome struct {
	Eligible    bool
	Scheduled   bool
	Notified    bool
	ScheduleErr error
	NotifyErr   error
}

// SchedulerConfig tunes retries for failed effects.
type SchedulerConfig struct {
	Threshold   float64
	RetryDelay  time.Duration
	MaxAttempts int
	Location    *time.Location
}

// Scheduler books appointments in the CRM and tells staff, each at most once.
type Scheduler struct {
	crm      crm.CRM
	notifier notify.StaffNotifier
	cfg      SchedulerConfig
	logger   *logging.Logger
}

func NewScheduler(c crm.CRM, notifier notify.StaffNotifier, cfg SchedulerConfig, logger *logging.Logger) *Scheduler {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{crm: c, notifier: notifier, cfg: cfg, logger: logger}
}

// Eligible reports whether ex may be booked automatically.
func (s *Scheduler) Eligible(ex Extraction) bool {
	if ex.Classification != ExactTime && ex.Classification != Reschedule {
		return false
	}
	_, ok := ex.Time()
	return ok && ex.Confidence >= s.cfg.Threshold
}

// Apply records ex on lead and runs the booking and notification effects.
// A retried call for the same time issues neither effect twice.
func (s *Scheduler) Apply(ctx context.Context, lead *leads.Lead, ex Extraction, sourceText string, now time.Time) Outcome {
	if !s.Eligible(ex) {
		return Outcome{}
	}
	t, _ := ex.Time()
	target := t.UTC()
	if last, ok := lastTarget(lead); ok && !last.Equal(target) {
		lead.ApptNotifySent = false
	}
	lead.PendingAppointment = &leads.PendingAppointment{
		ISOTime:    target.Format(time.RFC3339),
		Confidence: ex.Confidence,
		SourceText: sourceText,
		Reschedule: ex.Classification == Reschedule,
	}
	return s.run(ctx, lead, now)
}

// RetryDue re-runs the effects of a pending appointment whose retry time has passed.
func (s *Scheduler) RetryDue(ctx context.Context, lead *leads.Lead, now time.Time) Outcome {
	p := lead.PendingAppointment
	if p == nil || p.RetryAt == nil || p.RetryAt.After(now) {
		return Outcome{}
	}
	return s.run(ctx, lead, now)
}

func (s *Scheduler) run(ctx context.Context, lead *leads.Lead, now time.Time) Outcome {
	p := lead.PendingAppointment
	target, err := time.Parse(time.RFC3339, p.ISOTime)
	if err != nil || !target.After(now) {
		s.logger.Warn("appointment: pending time no longer valid, discarding", "lead_key", lead.Key, "iso", p.ISOTime)
		lead.PendingAppointment = nil
		return Outcome{}
	}
	target = target.UTC()
	out := Outcome{Eligible: true}

	if lead.Appointment != nil && lead.Appointment.StartsAt.Equal(target) {
		out.Scheduled = true
	} else {
		s.completePrevious(ctx, lead, now)
		res, err := s.crm.ScheduleActivity(ctx, crm.ScheduleActivityRequest{
			LeadKey:  lead.Key,
			DueUTC:   target,
			Name:     "Appointment " + target.In(s.cfg.Location).Format("Mon Jan 2 3:04 PM"),
			Type:     crm.ActivityAppointment,
			Comments: p.SourceText,
		})
		if err != nil {
			out.ScheduleErr = err
			s.logger.Error("appointment: schedule failed", "lead_key", lead.Key, "error", err)
		} else {
			lead.Appointment = &leads.Appointment{ActivityID: res.ActivityID, StartsAt: target, ScheduledAt: now.UTC()}
			out.Scheduled = true
		}
	}

	if !lead.ApptNotifySent && s.notifier != nil {
		notice := notify.AppointmentNotice{
			LeadKey:    lead.Key,
			Name:       lead.Name,
			Email:      lead.Email,
			Phone:      lead.Phone,
			StartsAt:   target,
			Reschedule: p.Reschedule,
			SourceText: p.SourceText,
		}
		if lead.Appointment != nil {
			notice.ActivityID = lead.Appointment.ActivityID
		}
		if err := s.notifier.NotifyAppointment(ctx, notice); err != nil {
			out.NotifyErr = err
			s.logger.Error("appointment: staff notification failed", "lead_key", lead.Key, "error", err)
		} else {
			lead.ApptNotifySent = true
			out.Notified = true
		}
	}

	if out.Scheduled && (lead.ApptNotifySent || s.notifier == nil) {
		lead.PendingAppointment = nil
		return out
	}
	p.Attempts++
	if p.Attempts >= s.cfg.MaxAttempts {
		s.logger.Error("appointment: giving up after repeated failures", "lead_key", lead.Key, "attempts", p.Attempts)
		lead.PendingAppointment = nil
		return out
	}
	retry := now.Add(s.cfg.RetryDelay * time.Duration(1<<(p.Attempts-1))).UTC()
	p.RetryAt = &retry
	return out
}

// completePrevious closes an earlier appointment activity being replaced.
func (s *Scheduler) completePrevious(ctx context.Context, lead *leads.Lead, now time.Time) {
	prev := lead.Appointment
	if prev == nil || prev.ActivityID == "" {
		return
	}
	err := s.crm.CompleteActivity(ctx, crm.CompleteActivityRequest{
		LeadKey:      lead.Key,
		ActivityID:   prev.ActivityID,
		CompletedUTC: now.UTC(),
		Comments:     fmt.Sprintf("rescheduled by customer from %s", prev.StartsAt.In(s.cfg.Location).Format("Mon Jan 2 3:04 PM")),
	})
	if err != nil {
		s.logger.Warn("appointment: completing previous activity failed", "lead_key", lead.Key, "activity_id", prev.ActivityID, "error", err)
		return
	}
	lead.Appointment = nil
}

func lastTarget(lead *leads.Lead) (time.Time, bool) {
	if p := lead.PendingAppointment; p != nil {
		if t, err := time.Parse(time.RFC3339, p.ISOTime); err == nil {
			return t.UTC(), true
		}
	}
	if a := lead.Appointment; a != nil {
		return a.StartsAt.UTC(), true
	}
	return time.Time{}, false
}
