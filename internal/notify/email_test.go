package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	if sender := NewSendGridSender(SendGridConfig{FromEmail: "test@example.com"}, nil); sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "test@example.com"}, nil)
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != defaultFromName {
		t.Errorf("expected default from name %q, got %q", defaultFromName, sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	var sender *SendGridSender
	if err := sender.Send(context.Background(), EmailMessage{To: "a@example.com"}); err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	if err := NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "s"}); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	api := &fakeSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "desk@dealer.example"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "sales@dealer.example", Subject: "Handoff", Body: "text"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := aws.ToString(api.input.FromEmailAddress); got != "Lead Desk <desk@dealer.example>" {
		t.Errorf("from = %q", got)
	}
	if api.input.Content.Simple.Body.Html != nil {
		t.Error("html body should be omitted")
	}
	if got := api.input.Destination.ToAddresses; len(got) != 1 || got[0] != "sales@dealer.example" {
		t.Errorf("to = %v", got)
	}

	api.err = errors.New("throttled")
	if err := sender.Send(context.Background(), EmailMessage{To: "x@example.com"}); err == nil {
		t.Fatal("expected SES error")
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Error("expected nil sender for nil client")
	}
}

func TestSMTPSender_Message(t *testing.T) {
	if NewSMTPSender(SMTPConfig{}) != nil {
		t.Fatal("expected nil sender without host")
	}
	sender := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", FromEmail: "desk@dealer.example"})
	if sender.port != 587 {
		t.Errorf("port = %d", sender.port)
	}
	if _, err := sender.message(EmailMessage{To: "sales@dealer.example", Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("message: %v", err)
	}
	if _, err := sender.message(EmailMessage{To: "not an address", Subject: "s"}); err == nil {
		t.Fatal("expected invalid recipient error")
	}
}
