package crm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DryRun skips every CRM side effect and logs what would have happened.
type DryRun struct {
	logger *slog.Logger
}

var _ CRM = (*DryRun)(nil)

// NewDryRun creates a CRM that performs no external calls.
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger}
}

func (d *DryRun) ScheduleActivity(_ context.Context, req ScheduleActivityRequest) (ActivityResult, error) {
	d.logger.Info("dry run: schedule activity skipped", "lead_key", req.LeadKey, "due_utc", req.DueUTC, "type", req.Type)
	return ActivityResult{ActivityID: "dry-run-" + uuid.NewString()}, nil
}

func (d *DryRun) CompleteActivity(_ context.Context, req CompleteActivityRequest) error {
	d.logger.Info("dry run: complete activity skipped", "lead_key", req.LeadKey, "activity_id", req.ActivityID)
	return nil
}

func (d *DryRun) SendEmail(_ context.Context, req SendEmailRequest) error {
	d.logger.Info("dry run: email skipped", "lead_key", req.LeadKey, "recipients", req.Recipients, "subject", req.Subject)
	return nil
}

func (d *DryRun) AddComment(_ context.Context, leadKey, text string) error {
	d.logger.Info("dry run: comment skipped", "lead_key", leadKey, "length", len(text))
	return nil
}

// SafeMode reroutes every CRM email to a single test recipient.
type SafeMode struct {
	CRM
	recipient string
}

// WithSafeMode wraps inner so emails only reach recipient. An empty recipient returns inner unchanged.
func WithSafeMode(inner CRM, recipient string) CRM {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return inner
	}
	return &SafeMode{CRM: inner, recipient: recipient}
}

func (s *SafeMode) SendEmail(ctx context.Context, req SendEmailRequest) error {
	original := strings.Join(req.Recipients, ", ")
	req.Recipients = []string{s.recipient}
	req.Subject = fmt.Sprintf("[safe mode: %s] %s", original, req.Subject)
	return s.CRM.SendEmail(ctx, req)
}

// Recorder is an in-memory CRM used by the offline data source and tests.
type Recorder struct {
	mu        sync.Mutex
	Scheduled []ScheduleActivityRequest
	Completed []CompleteActivityRequest
	Emails    []SendEmailRequest
	Comments  []string

	// Optional per-call failures.
	ScheduleErr error
	EmailErr    error
}

var _ CRM = (*Recorder)(nil)

func (r *Recorder) ScheduleActivity(_ context.Context, req ScheduleActivityRequest) (ActivityResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ScheduleErr != nil {
		return ActivityResult{}, r.ScheduleErr
	}
	r.Scheduled = append(r.Scheduled, req)
	return ActivityResult{ActivityID: fmt.Sprintf("act-%d", len(r.Scheduled))}, nil
}

func (r *Recorder) CompleteActivity(_ context.Context, req CompleteActivityRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Completed = append(r.Completed, req)
	return nil
}

func (r *Recorder) SendEmail(_ context.Context, req SendEmailRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.EmailErr != nil {
		return r.EmailErr
	}
	r.Emails = append(r.Emails, req)
	return nil
}

func (r *Recorder) AddComment(_ context.Context, leadKey, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Comments = append(r.Comments, leadKey+": "+text)
	return nil
}

// Counts returns the number of scheduled activities and sent emails.
func (r *Recorder) Counts() (scheduled, emails int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Scheduled), len(r.Emails)
}
