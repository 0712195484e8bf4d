// Command scanner-lambda runs the due scanner on an EventBridge schedule, or
// drains the SQS tick queue when LAMBDA_HANDLER=ticks.
package main

import (
	"context"
	"errors"
	"os"
	"strings"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/cmd/mainconfig"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/app/bootstrap"
	appconfig "github.com/knowzek/gpt-lead-autoresponder-sub000/internal/config"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/scanner"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

type scanRunner interface {
	RunOnce(ctx context.Context) (scanner.Report, error)
}

type tickHandler interface {
	HandleTick(ctx context.Context, tick engine.DueTick) (engine.Result, error)
}

type handler struct {
	scan   scanRunner
	ticks  tickHandler
	logger *logging.Logger
}

// handleSchedule runs one scan cycle.
func (h *handler) handleSchedule(ctx context.Context, evt events.CloudWatchEvent) (scanner.Report, error) {
	rep, err := h.scan.RunOnce(ctx)
	if err != nil {
		h.logger.Error("scheduled scan failed", "event_id", evt.ID, "error", err)
		return rep, err
	}
	h.logger.Info("scheduled scan complete",
		"event_id", evt.ID,
		"due", rep.Due,
		"processed", rep.Processed,
		"enqueued", rep.Enqueued,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
	)
	return rep, nil
}

// handleSQS runs every tick in the batch and reports the failed ones so
// only they are redelivered. Undecodable bodies are dropped.
func (h *handler) handleSQS(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		tick, err := scanner.DecodeTick(record.Body)
		if err != nil {
			h.logger.Warn("dropping malformed tick", "message_id", record.MessageId, "error", err)
			continue
		}
		_, err = h.ticks.HandleTick(ctx, tick)
		if errors.Is(err, engine.ErrEffectsCommitted) {
			h.logger.Error("tick sent but lead not saved", "lead_key", tick.LeadKey, "message_id", record.MessageId, "error", err)
			continue
		}
		if err != nil {
			h.logger.Error("tick failed", "lead_key", tick.LeadKey, "message_id", record.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp, nil
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	rt, err := bootstrap.NewRuntime(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to initialise runtime", "error", err)
		os.Exit(1)
	}
	svc, err := bootstrap.BuildEngine(ctx, rt)
	if err != nil {
		logger.Error("failed to build lead engine", "error", err)
		os.Exit(1)
	}

	opts := []scanner.Option{scanner.WithMetrics(rt.ScannerMetrics)}
	if cfg.TickQueue == "sqs" {
		opts = append(opts, scanner.WithQueue(scanner.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSTickQueueURL)))
	}
	h := &handler{
		scan: scanner.New(rt.Store, svc.Machine, scanner.Config{
			BatchSize:   cfg.ScanBatchSize,
			Concurrency: cfg.ScanConcurrency,
		}, logger, opts...),
		ticks:  svc.Machine,
		logger: logger,
	}

	if strings.EqualFold(os.Getenv("LAMBDA_HANDLER"), "ticks") {
		lambda.Start(h.handleSQS)
		return
	}
	lambda.Start(h.handleSchedule)
}
