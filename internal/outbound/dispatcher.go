// Package outbound delivers lead-facing messages over email and SMS.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/crm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/messaging/telnyxclient"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

var tracer = otel.Tracer("leadengine.outbound")

// ErrNoAddress is returned when the lead has no address on the channel.
var ErrNoAddress = errors.New("outbound: lead has no address for channel")

// Message is one lead-facing send.
type Message struct {
	LeadKey string
	Channel leads.Channel
	To      string
	Subject string
	Body    string
}

// Receipt describes an accepted send.
type Receipt struct {
	ProviderMessageID string
	SentAt            time.Time
	DryRun            bool
}

// Dispatcher sends lead-facing messages.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// SMSTransport is satisfied by *telnyxclient.Client.
type SMSTransport interface {
	SendMessage(ctx context.Context, req telnyxclient.SendMessageRequest) (*telnyxclient.MessageResponse, error)
}

// Config wires the router.
type Config struct {
	CRM                crm.CRM
	SMS                SMSTransport
	EmailSender        string
	FromNumber         string
	MessagingProfileID string
	// SafeModePhone reroutes every SMS when set.
	SafeModePhone string
	DryRun        bool
	Now           func() time.Time
}

// Router sends email through the CRM and SMS through the SMS transport.
type Router struct {
	cfg    Config
	logger *logging.Logger
}

var _ Dispatcher = (*Router)(nil)

func NewRouter(cfg Config, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{cfg: cfg, logger: logger}
}

func (r *Router) Send(ctx context.Context, msg Message) (Receipt, error) {
	ctx, span := tracer.Start(ctx, "outbound.send")
	defer span.End()
	span.SetAttributes(attribute.String("lead.channel", string(msg.Channel)))

	if strings.TrimSpace(msg.To) == "" {
		return Receipt{}, ErrNoAddress
	}
	if strings.TrimSpace(msg.Body) == "" {
		return Receipt{}, errors.New("outbound: empty body")
	}
	if r.cfg.DryRun {
		r.logger.Info("dry run: outbound message skipped",
			"lead_key", msg.LeadKey,
			"channel", msg.Channel,
			"to", msg.To,
			"subject", msg.Subject,
			"body_length", len(msg.Body),
		)
		return Receipt{ProviderMessageID: "dry-run-" + uuid.NewString(), SentAt: r.cfg.Now().UTC(), DryRun: true}, nil
	}
	switch msg.Channel {
	case leads.ChannelEmail:
		return r.sendEmail(ctx, msg)
	case leads.ChannelSMS:
		return r.sendSMS(ctx, msg)
	default:
		return Receipt{}, fmt.Errorf("outbound: unsupported channel %q", msg.Channel)
	}
}

func (r *Router) sendEmail(ctx context.Context, msg Message) (Receipt, error) {
	if r.cfg.CRM == nil {
		return Receipt{}, errors.New("outbound: crm not configured")
	}
	err := r.cfg.CRM.SendEmail(ctx, crm.SendEmailRequest{
		LeadKey:    msg.LeadKey,
		Sender:     r.cfg.EmailSender,
		Recipients: []string{msg.To},
		Subject:    msg.Subject,
		BodyHTML:   PlainToHTML(msg.Body),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("outbound: send email: %w", err)
	}
	return Receipt{SentAt: r.cfg.Now().UTC()}, nil
}

func (r *Router) sendSMS(ctx context.Context, msg Message) (Receipt, error) {
	if r.cfg.SMS == nil {
		return Receipt{}, errors.New("outbound: sms transport not configured")
	}
	to := msg.To
	body := msg.Body
	if r.cfg.SafeModePhone != "" {
		body = fmt.Sprintf("[safe mode: %s] %s", to, body)
		to = r.cfg.SafeModePhone
	}
	resp, err := r.cfg.SMS.SendMessage(ctx, telnyxclient.SendMessageRequest{
		From:               r.cfg.FromNumber,
		To:                 to,
		Body:               body,
		MessagingProfileID: r.cfg.MessagingProfileID,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("outbound: send sms: %w", err)
	}
	return Receipt{ProviderMessageID: resp.ID, SentAt: r.cfg.Now().UTC()}, nil
}

// PlainToHTML renders plain text as escaped HTML paragraphs.
func PlainToHTML(text string) string {
	paras := strings.Split(strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

// StaffSMS adapts transport to staff notification SMS.
func StaffSMS(transport SMSTransport, from, profileID string) func(ctx context.Context, to, body string) error {
	return func(ctx context.Context, to, body string) error {
		_, err := transport.SendMessage(ctx, telnyxclient.SendMessageRequest{From: from, To: to, Body: body, MessagingProfileID: profileID})
		return err
	}
}
