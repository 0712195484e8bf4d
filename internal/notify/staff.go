package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// ErrNoRecipients is returned when no staff recipient is configured.
var ErrNoRecipients = errors.New("notify: no staff recipients configured")

// HandoffNotice tells staff a lead needs a person.
type HandoffNotice struct {
	LeadKey     string
	Name        string
	Email       string
	Phone       string
	Channel     string
	Reason      string
	LastMessage string
	At          time.Time
}

// AppointmentNotice tells staff a visit was booked.
type AppointmentNotice struct {
	LeadKey    string
	Name       string
	Email      string
	Phone      string
	StartsAt   time.Time
	ActivityID string
	Reschedule bool
	SourceText string
}

// StaffNotifier is what the engine needs from this package.
type StaffNotifier interface {
	NotifyHandoff(ctx context.Context, n HandoffNotice) error
	NotifyAppointment(ctx context.Context, n AppointmentNotice) error
}

// Recipients lists who hears about handoffs and appointments.
type Recipients struct {
	Emails []string
	Phones []string
	// Secondary is tried once when every primary delivery failed.
	Secondary string
}

// Service fans notifications out over email and SMS.
type Service struct {
	email      EmailSender
	sms        SMSSender
	recipients Recipients
	loc        *time.Location
	logger     *logging.Logger
}

// NewService creates a notifier. email or sms may be nil; loc formats appointment times.
func NewService(email EmailSender, sms SMSSender, recipients Recipients, loc *time.Location, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{email: email, sms: sms, recipients: recipients, loc: loc, logger: logger}
}

func (s *Service) NotifyHandoff(ctx context.Context, n HandoffNotice) error {
	subject := fmt.Sprintf("Lead needs a salesperson: %s", displayName(n.Name, n.LeadKey))
	body := fmt.Sprintf(`A lead was handed off for human follow-up.

Lead: %s
Name: %s
Phone: %s
Email: %s
Channel: %s
Reason: %s

Last message:
%s
`, n.LeadKey, n.Name, n.Phone, n.Email, n.Channel, n.Reason, n.LastMessage)
	sms := fmt.Sprintf("Handoff: %s (%s). Reason: %s", displayName(n.Name, n.LeadKey), n.Phone, truncate(n.Reason, 80))
	return s.deliver(ctx, "handoff", n.LeadKey, subject, body, sms)
}

func (s *Service) NotifyAppointment(ctx context.Context, n AppointmentNotice) error {
	when := n.StartsAt.In(s.loc).Format("Mon Jan 2, 3:04 PM MST")
	verb := "booked"
	if n.Reschedule {
		verb = "rescheduled"
	}
	subject := fmt.Sprintf("Appointment %s: %s on %s", verb, displayName(n.Name, n.LeadKey), when)
	body := fmt.Sprintf(`An appointment was %s from the lead's message.

Lead: %s
Name: %s
Phone: %s
Email: %s
When: %s
CRM activity: %s

Customer wrote:
%s
`, verb, n.LeadKey, n.Name, n.Phone, n.Email, when, n.ActivityID, n.SourceText)
	sms := fmt.Sprintf("Appt %s: %s %s", verb, displayName(n.Name, n.LeadKey), when)
	return s.deliver(ctx, "appointment", n.LeadKey, subject, body, sms)
}

// deliver succeeds when at least one recipient got the notice. When every
// primary delivery fails, one attempt goes to the secondary address.
func (s *Service) deliver(ctx context.Context, kind, leadKey, subject, body, smsBody string) error {
	var (
		errs      []error
		delivered int
	)
	if s.email != nil {
		for _, to := range s.recipients.Emails {
			if err := s.email.Send(ctx, EmailMessage{To: to, Subject: subject, Body: body}); err != nil {
				errs = append(errs, err)
				continue
			}
			delivered++
		}
	}
	if s.sms != nil {
		for _, to := range s.recipients.Phones {
			if err := s.sms.SendSMS(ctx, to, smsBody); err != nil {
				errs = append(errs, err)
				continue
			}
			delivered++
		}
	}
	if delivered > 0 {
		if len(errs) > 0 {
			s.logger.Warn("notify: partial delivery", "kind", kind, "lead_key", leadKey, "failed", len(errs), "error", errors.Join(errs...))
		}
		return nil
	}
	if len(errs) == 0 {
		errs = append(errs, ErrNoRecipients)
	}
	primaryErr := errors.Join(errs...)
	s.logger.Error("notify: primary delivery failed", "kind", kind, "lead_key", leadKey, "error", primaryErr)

	if s.email == nil || strings.TrimSpace(s.recipients.Secondary) == "" {
		return fmt.Errorf("notify: %s: %w", kind, primaryErr)
	}
	if err := s.email.Send(ctx, EmailMessage{To: s.recipients.Secondary, Subject: "[fallback] " + subject, Body: body}); err != nil {
		return fmt.Errorf("notify: %s: secondary failed: %w", kind, errors.Join(primaryErr, err))
	}
	s.logger.Warn("notify: delivered via secondary recipient", "kind", kind, "lead_key", leadKey)
	return nil
}

func displayName(name, key string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return key
}

var _ StaffNotifier = (*Service)(nil)
