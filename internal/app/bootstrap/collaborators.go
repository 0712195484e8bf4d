package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/knowzek/gpt-lead-autoresponder-sub000/internal/config"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/crm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/inbound"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/llm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/messaging/telnyxclient"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/notify"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/outbound"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/provider"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// Policy is the retry and timeout budget for the named collaborator.
func Policy(cfg *appconfig.Config, name string, observer provider.CallObserver, logger *logging.Logger) provider.Policy {
	p := provider.DefaultPolicy(name)
	if cfg.CollaboratorTimeout > 0 {
		p.Timeout = cfg.CollaboratorTimeout
	}
	if cfg.CollaboratorMaxRetries >= 0 {
		p.MaxRetries = cfg.CollaboratorMaxRetries
	}
	p.Observer = observer
	if logger != nil {
		p.Logger = logger.Logger
	}
	return p
}

// LLM is the configured model client and the model id requests should name.
// Client is nil in offline mode and when no provider is configured.
type LLM struct {
	Client llm.Client
	Model  string
	close  func() error
}

// Close releases provider connections.
func (l LLM) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

// BuildLLM wires Bedrock and Gemini. With LLM_PROVIDER=bedrock and a Gemini
// key present, Gemini serves as the fallback.
func BuildLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (LLM, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.OfflineMode || cfg.LLMProvider == "offline" {
		logger.Info("llm disabled; replies use templates and triage fails closed")
		return LLM{}, nil
	}

	var gemini *llm.GeminiClient
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		g, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return LLM{}, fmt.Errorf("bootstrap: %w", err)
		}
		gemini = g
	}
	closeGemini := func() error {
		if gemini == nil {
			return nil
		}
		return gemini.Close()
	}

	switch cfg.LLMProvider {
	case "gemini":
		if gemini == nil {
			return LLM{}, fmt.Errorf("bootstrap: LLM_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		return LLM{Client: gemini, Model: cfg.GeminiModel, close: closeGemini}, nil
	case "bedrock", "":
		model := strings.TrimSpace(cfg.BedrockModelID)
		if model == "" {
			if gemini != nil {
				logger.Warn("no Bedrock model configured; using Gemini")
				return LLM{Client: gemini, Model: cfg.GeminiModel, close: closeGemini}, nil
			}
			logger.Warn("no Bedrock model configured; llm disabled")
			return LLM{}, nil
		}
		var client llm.Client = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), model)
		if gemini != nil {
			client = llm.NewFallbackClient(client, gemini, logger.Logger)
		}
		return LLM{Client: client, Model: model, close: closeGemini}, nil
	default:
		_ = closeGemini()
		return LLM{}, fmt.Errorf("bootstrap: unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// BuildCRM returns the CRM collaborator, decorated for safe mode. Dry-run and
// offline runs get a CRM that records nothing.
func BuildCRM(cfg *appconfig.Config, policy provider.Policy, logger *logging.Logger) (crm.CRM, error) {
	if logger == nil {
		logger = logging.Default()
	}
	var c crm.CRM
	// A phone-only safe-mode target has nowhere to reroute email to.
	phoneOnlySafeMode := cfg.SafeModeRecipient != "" && safeModeEmail(cfg) == ""
	if cfg.DryRun || cfg.OfflineMode || phoneOnlySafeMode {
		c = crm.NewDryRun(logger.Logger)
	} else {
		client, err := crm.New(crm.Config{
			BaseURL:      cfg.CRMBaseURL,
			TokenURL:     cfg.CRMTokenURL,
			ClientID:     cfg.CRMClientID,
			ClientSecret: cfg.CRMClientSecret,
			HTTPClient:   &http.Client{Timeout: 30 * time.Second},
			Policy:       policy,
			Logger:       logger.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		c = client
	}
	if email := safeModeEmail(cfg); email != "" {
		logger.Warn("safe mode: every CRM email goes to the override recipient", "recipient", email)
		c = crm.WithSafeMode(c, email)
	}
	return c, nil
}

// BuildTelnyx returns the SMS transport, or nil when no API key is set.
func BuildTelnyx(cfg *appconfig.Config, policy provider.Policy, logger *logging.Logger) (*telnyxclient.Client, error) {
	if strings.TrimSpace(cfg.TelnyxAPIKey) == "" {
		return nil, nil
	}
	var slogger = logging.Default().Logger
	if logger != nil {
		slogger = logger.Logger
	}
	client, err := telnyxclient.New(telnyxclient.Config{
		APIKey:        cfg.TelnyxAPIKey,
		WebhookSecret: cfg.TelnyxWebhookSecret,
		Policy:        policy,
		Logger:        slogger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return client, nil
}

// BuildOutbound routes lead-facing messages: email through the CRM, SMS
// through Telnyx.
func BuildOutbound(cfg *appconfig.Config, c crm.CRM, sms *telnyxclient.Client, logger *logging.Logger) *outbound.Router {
	rc := outbound.Config{
		CRM:                c,
		EmailSender:        cfg.CRMSenderEmail,
		FromNumber:         cfg.TelnyxFromNumber,
		MessagingProfileID: cfg.TelnyxMessagingProfileID,
		SafeModePhone:      safeModePhone(cfg),
		DryRun:             cfg.DryRun || cfg.OfflineMode,
	}
	if sms != nil {
		rc.SMS = sms
	}
	return outbound.NewRouter(rc, logger)
}

// BuildEmailSender picks the staff notification email transport.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.OfflineMode || cfg.DryRun {
		return notify.NewStubEmailSender(logger)
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger); s != nil {
			return s
		}
		logger.Warn("EMAIL_PROVIDER=sendgrid without SENDGRID_API_KEY; using stub sender")
	case "ses":
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
	case "smtp":
		if strings.TrimSpace(cfg.SMTPHost) != "" {
			return notify.NewSMTPSender(notify.SMTPConfig{
				Host:      cfg.SMTPHost,
				Port:      cfg.SMTPPort,
				Username:  cfg.SMTPUser,
				Password:  cfg.SMTPPassword,
				FromEmail: cfg.EmailFrom,
				FromName:  cfg.EmailFromName,
			})
		}
		logger.Warn("EMAIL_PROVIDER=smtp without SMTP_HOST; using stub sender")
	}
	return notify.NewStubEmailSender(logger)
}

// BuildNotifier fans staff alerts out over email and, when Telnyx is
// configured, SMS.
func BuildNotifier(cfg *appconfig.Config, email notify.EmailSender, sms *telnyxclient.Client, loc *time.Location, logger *logging.Logger) *notify.Service {
	var smsSender notify.SMSSender = notify.NewStubSMSSender(logger)
	if sms != nil && !cfg.DryRun && !cfg.OfflineMode {
		smsSender = notify.SMSFunc(outbound.StaffSMS(sms, cfg.TelnyxFromNumber, cfg.TelnyxMessagingProfileID))
	}
	recipients := notify.Recipients{
		Emails:    cfg.StaffNotifyEmails,
		Phones:    cfg.StaffNotifyPhones,
		Secondary: cfg.SecondaryNotifyEmail,
	}
	return notify.NewService(email, smsSender, recipients, loc, logger)
}

func safeModeEmail(cfg *appconfig.Config) string {
	if strings.Contains(cfg.SafeModeRecipient, "@") {
		return cfg.SafeModeRecipient
	}
	return ""
}

func safeModePhone(cfg *appconfig.Config) string {
	if cfg.SafeModePhone != "" {
		return inbound.NormalizePhone(cfg.SafeModePhone)
	}
	if cfg.SafeModeRecipient != "" && !strings.Contains(cfg.SafeModeRecipient, "@") {
		return inbound.NormalizePhone(cfg.SafeModeRecipient)
	}
	return ""
}
