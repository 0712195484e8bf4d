package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureEmail struct {
	mu   sync.Mutex
	sent []EmailMessage
	fail map[string]error
}

func (c *captureEmail) Send(_ context.Context, msg EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[msg.To]; err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

type captureSMS struct {
	sent []string
	err  error
}

func (c *captureSMS) SendSMS(_ context.Context, to, body string) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, to+":"+body)
	return nil
}

func TestService_NotifyHandoff(t *testing.T) {
	email := &captureEmail{}
	sms := &captureSMS{}
	svc := NewService(email, sms, Recipients{Emails: []string{"a@dealer.example", "b@dealer.example"}, Phones: []string{"+15550100"}}, nil, nil)

	err := svc.NotifyHandoff(context.Background(), HandoffNotice{LeadKey: "opp-1", Name: "Jane", Reason: "risk topic: price", LastMessage: "best price?"})
	if err != nil {
		t.Fatalf("NotifyHandoff: %v", err)
	}
	if len(email.sent) != 2 || len(sms.sent) != 1 {
		t.Fatalf("sent %d emails and %d sms", len(email.sent), len(sms.sent))
	}
	if !strings.Contains(email.sent[0].Body, "best price?") {
		t.Errorf("body missing last message: %q", email.sent[0].Body)
	}
}

func TestService_PartialFailureStillSucceeds(t *testing.T) {
	email := &captureEmail{fail: map[string]error{"a@dealer.example": errors.New("bounce")}}
	svc := NewService(email, nil, Recipients{Emails: []string{"a@dealer.example", "b@dealer.example"}}, nil, nil)
	if err := svc.NotifyHandoff(context.Background(), HandoffNotice{LeadKey: "opp-1"}); err != nil {
		t.Fatalf("expected success with one delivery, got %v", err)
	}
}

func TestService_SecondaryFallback(t *testing.T) {
	email := &captureEmail{fail: map[string]error{"a@dealer.example": errors.New("bounce")}}
	sms := &captureSMS{err: errors.New("carrier down")}
	svc := NewService(email, sms, Recipients{Emails: []string{"a@dealer.example"}, Phones: []string{"+15550100"}, Secondary: "gm@dealer.example"}, nil, nil)

	if err := svc.NotifyHandoff(context.Background(), HandoffNotice{LeadKey: "opp-1"}); err != nil {
		t.Fatalf("expected secondary delivery, got %v", err)
	}
	if len(email.sent) != 1 || email.sent[0].To != "gm@dealer.example" || !strings.HasPrefix(email.sent[0].Subject, "[fallback]") {
		t.Fatalf("unexpected secondary send: %+v", email.sent)
	}

	email.fail["gm@dealer.example"] = errors.New("bounce")
	if err := svc.NotifyHandoff(context.Background(), HandoffNotice{LeadKey: "opp-1"}); err == nil {
		t.Fatal("expected error when secondary also fails")
	}
}

func TestService_NoRecipients(t *testing.T) {
	svc := NewService(&captureEmail{}, nil, Recipients{}, nil, nil)
	err := svc.NotifyAppointment(context.Background(), AppointmentNotice{LeadKey: "opp-1"})
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestService_NotifyAppointmentFormatsLocalTime(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	email := &captureEmail{}
	svc := NewService(email, nil, Recipients{Emails: []string{"a@dealer.example"}}, loc, nil)
	startsAt := time.Date(2025, 3, 11, 19, 0, 0, 0, time.UTC)

	if err := svc.NotifyAppointment(context.Background(), AppointmentNotice{LeadKey: "opp-1", Name: "Jane", StartsAt: startsAt, Reschedule: true}); err != nil {
		t.Fatalf("NotifyAppointment: %v", err)
	}
	if got := email.sent[0].Subject; !strings.Contains(got, "rescheduled") || !strings.Contains(got, "3:00 PM EDT") {
		t.Errorf("subject = %q", got)
	}
}
