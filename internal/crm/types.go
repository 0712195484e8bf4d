package crm

import (
	"context"
	"time"
)

// CRM is the dealership CRM collaborator. Calls are not idempotent on the CRM side;
// callers are responsible for not re-issuing them.
type CRM interface {
	ScheduleActivity(ctx context.Context, req ScheduleActivityRequest) (ActivityResult, error)
	CompleteActivity(ctx context.Context, req CompleteActivityRequest) error
	SendEmail(ctx context.Context, req SendEmailRequest) error
	AddComment(ctx context.Context, leadKey, text string) error
}

// Activity types understood by the CRM.
const (
	ActivityAppointment = "appointment"
	ActivityFollowUp    = "follow_up"
)

// ScheduleActivityRequest creates a calendar activity on the lead.
type ScheduleActivityRequest struct {
	LeadKey  string    `json:"-"`
	DueUTC   time.Time `json:"dueUtc"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Comments string    `json:"comments,omitempty"`
}

// ActivityResult identifies the created activity.
type ActivityResult struct {
	ActivityID string `json:"activityId"`
}

// CompleteActivityRequest closes an activity.
type CompleteActivityRequest struct {
	LeadKey      string    `json:"-"`
	ActivityID   string    `json:"-"`
	CompletedUTC time.Time `json:"completedUtc"`
	Comments     string    `json:"comments,omitempty"`
}

// SendEmailRequest sends an email through the CRM so it is logged on the lead.
type SendEmailRequest struct {
	LeadKey    string   `json:"-"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	BodyHTML   string   `json:"bodyHtml"`
}
