package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/appointment"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/archive"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/cadence"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/compliance"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/messaging/telnyxclient"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/replygen"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/scanner"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/triage"
)

const (
	appointmentRetryDelay  = 15 * time.Minute
	appointmentMaxAttempts = 3
)

// Services is the assembled lead engine plus the transports the HTTP layer
// needs for signature checks.
type Services struct {
	Machine  *engine.Machine
	Telnyx   *telnyxclient.Client
	Location *time.Location
	closers  []func() error
}

// Close releases the LLM and tick scheduler connections.
func (s *Services) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// BuildEngine wires every collaborator into an engine.Machine.
func BuildEngine(ctx context.Context, rt *Runtime) (*Services, error) {
	if rt == nil {
		return nil, fmt.Errorf("bootstrap: runtime is required")
	}
	cfg, logger := rt.Config, rt.Logger
	svc := &Services{}

	loc, err := time.LoadLocation(cfg.StoreTimezone)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: STORE_TIMEZONE: %w", err)
	}
	svc.Location = loc
	hours, err := appointment.ParseStoreHours(cfg.StoreHours)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: STORE_HOURS: %w", err)
	}
	quiet, err := compliance.ParseQuietHours(cfg.QuietHoursStart, cfg.QuietHoursEnd, loc)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: quiet hours: %w", err)
	}

	observer := rt.EngineMetrics
	model, err := BuildLLM(ctx, cfg, rt.AWS, logger)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, model.Close)

	crmClient, err := BuildCRM(cfg, Policy(cfg, "crm", observer, logger), logger)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	sms, err := BuildTelnyx(cfg, Policy(cfg, "telnyx", observer, logger), logger)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Telnyx = sms
	if sms == nil {
		logger.Warn("TELNYX_API_KEY not set; SMS sends will fail")
	}

	var audit compliance.AuditRecorder
	if rt.SQL != nil {
		audit = compliance.NewAuditLog(rt.SQL)
	}
	complianceGate := compliance.NewGate(compliance.StoreChecker{Store: rt.Store}, audit, logger)

	var classifier triage.RiskClassifier
	var resolver appointment.Resolver
	var generator replygen.Generator = replygen.Template{}
	if model.Client != nil {
		llmPolicy := Policy(cfg, "llm", observer, logger)
		classifier = triage.NewLLMClassifier(model.Client, model.Model, llmPolicy)
		resolver = appointment.NewLLMResolver(model.Client, model.Model, llmPolicy)
		generator = replygen.NewFallback(replygen.NewLLM(model.Client, model.Model, llmPolicy), replygen.Template{}, logger)
	}
	triageGate := triage.NewGate(classifier, cfg.ConfidenceFloor, complianceGate.Lexicon(), logger)
	extractor := appointment.NewExtractor(hours, loc, resolver, logger)

	notifier := BuildNotifier(cfg, BuildEmailSender(cfg, rt.AWS, logger), sms, loc, logger)
	scheduler := appointment.NewScheduler(crmClient, notifier, appointment.SchedulerConfig{
		Threshold:   cfg.AppointmentConfidence,
		RetryDelay:  appointmentRetryDelay,
		MaxAttempts: appointmentMaxAttempts,
		Location:    loc,
	}, logger)

	deps := engine.Deps{
		Store:      rt.Store,
		Compliance: complianceGate,
		Triage:     triageGate,
		Extractor:  extractor,
		Scheduler:  scheduler,
		Offer:      cadence.New(cadence.OfferPlan(cfg.CadenceInterval, cfg.OfferValidFor, cfg.OfferExpiredDay), quiet),
		FollowUp:   cadence.New(cadence.FollowUpPlan(cfg.FollowUpInterval, cfg.MaxFollowUps), quiet),
		Generator:  generator,
		Outbound:   BuildOutbound(cfg, crmClient, sms, logger),
		Notifier:   notifier,
	}

	opts := []engine.Option{
		engine.WithLeaser(rt.Leaser, cfg.LeaseTTL),
		engine.WithCRMComments(crmClient),
		engine.WithMetrics(rt.EngineMetrics),
		engine.WithPersona(replygen.Persona{AgentName: cfg.AgentName, Dealership: cfg.DealershipName}),
	}
	if cfg.ArchiveBucket != "" && !cfg.OfflineMode {
		opts = append(opts, engine.WithArchiver(archive.NewStore(s3.NewFromConfig(rt.AWS), cfg.ArchiveBucket, logger)))
	}
	if cfg.RedisAddr != "" && !cfg.OfflineMode {
		ticks := scanner.NewAsynqScheduler(scanner.RedisClientOpt(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisTLS), cfg.AsynqQueue)
		svc.closers = append(svc.closers, ticks.Close)
		opts = append(opts, engine.WithTickScheduler(ticks))
	}

	machine, err := engine.New(deps, logger, opts...)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Machine = machine
	logger.Info("lead engine ready",
		"llm", model.Client != nil,
		"sms", sms != nil,
		"audit", audit != nil,
		"timezone", loc.String(),
	)
	return svc, nil
}
