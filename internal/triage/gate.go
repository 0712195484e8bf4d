// Package triage decides whether an inbound message may be answered
// automatically or must be routed to a person.
package triage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/compliance"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

var tracer = otel.Tracer("leadengine.triage")

// Classification is the triage outcome.
type Classification string

const (
	AutoReplySafe       Classification = "AUTO_REPLY_SAFE"
	HumanReviewRequired Classification = "HUMAN_REVIEW_REQUIRED"
	ExplicitOptOut      Classification = "EXPLICIT_OPTOUT"
	NonLead             Classification = "NON_LEAD"
)

// DefaultConfidenceFloor is used when no floor is configured.
const DefaultConfidenceFloor = 0.75

const safeIntentConfidence = 0.95

// Source identifies which step produced a verdict.
type Source string

const (
	SourceRules      Source = "rules"
	SourceClassifier Source = "classifier"
)

// Verdict is the effective triage decision.
type Verdict struct {
	Classification Classification
	Confidence     float64
	Reason         string
	Source         Source
	// Transient is set on NON_LEAD verdicts for an empty reply or an absence
	// notice. Bounces and unmonitored mailboxes leave it false.
	Transient bool
}

// Input is one inbound message. From is the sender address when known.
type Input struct {
	Text string
	From string
}

// RiskVerdict is the classifier collaborator's raw answer.
type RiskVerdict struct {
	CanAutoReply bool    `json:"can_auto_reply"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

// RiskClassifier judges whether text is safe to answer automatically.
type RiskClassifier interface {
	Classify(ctx context.Context, text string) (RiskVerdict, error)
}

// ClassifierError wraps any failure of the risk classifier.
type ClassifierError struct {
	Err error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("triage: classifier failed: %v", e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

var errNoClassifier = errors.New("no risk classifier configured")

// Gate runs the ordered triage rules.
type Gate struct {
	optOut     *compliance.OptOutLexicon
	classifier RiskClassifier
	floor      float64
	logger     *logging.Logger
}

// NewGate builds a gate. A nil classifier sends every message that no rule
// settles to human review. A floor outside (0,1] falls back to the default.
func NewGate(classifier RiskClassifier, floor float64, optOut *compliance.OptOutLexicon, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	if optOut == nil {
		optOut = compliance.NewOptOutLexicon()
	}
	if floor <= 0 || floor > 1 {
		floor = DefaultConfidenceFloor
	}
	return &Gate{optOut: optOut, classifier: classifier, floor: floor, logger: logger}
}

// Floor returns the configured confidence floor.
func (g *Gate) Floor() float64 {
	return g.floor
}

// Triage classifies in.Text. It never returns an error: classifier
// failures resolve to HUMAN_REVIEW_REQUIRED.
func (g *Gate) Triage(ctx context.Context, in Input) Verdict {
	ctx, span := tracer.Start(ctx, "triage.classify")
	defer span.End()

	v := g.triage(ctx, in)
	span.SetAttributes(
		attribute.String("triage.classification", string(v.Classification)),
		attribute.String("triage.source", string(v.Source)),
		attribute.Float64("triage.confidence", v.Confidence),
	)
	return v
}

func (g *Gate) triage(ctx context.Context, in Input) Verdict {
	text := strings.TrimSpace(CustomerText(in.Text))
	if text == "" {
		return Verdict{Classification: NonLead, Confidence: 1, Reason: "empty message", Source: SourceRules, Transient: true}
	}
	if isBounceSender(in.From) {
		return Verdict{Classification: NonLead, Confidence: 1, Reason: "automated sender " + in.From, Source: SourceRules}
	}
	if p := firstMatch(nonLeadPatterns, text); p != nil {
		return Verdict{Classification: NonLead, Confidence: p.weight, Reason: p.keyword, Source: SourceRules, Transient: p.transient}
	}
	if term, ok := g.optOut.Match(text); ok {
		return Verdict{Classification: ExplicitOptOut, Confidence: 1, Reason: "opt-out: " + term, Source: SourceRules}
	}
	if p := firstMatch(riskPatterns, text); p != nil {
		return Verdict{Classification: HumanReviewRequired, Confidence: p.weight, Reason: "risk topic: " + p.keyword, Source: SourceRules}
	}
	if p := firstMatch(safePatterns, text); p != nil {
		return Verdict{Classification: AutoReplySafe, Confidence: safeIntentConfidence, Reason: "safe intent: " + p.keyword, Source: SourceRules}
	}
	return g.classify(ctx, text)
}

func (g *Gate) classify(ctx context.Context, text string) Verdict {
	var (
		rv  RiskVerdict
		err error
	)
	if g.classifier == nil {
		err = errNoClassifier
	} else {
		rv, err = g.classifier.Classify(ctx, text)
	}
	if err != nil {
		cerr := &ClassifierError{Err: err}
		g.logger.Warn("triage: classifier unavailable, routing to human", "error", cerr)
		return Verdict{Classification: HumanReviewRequired, Reason: cerr.Error(), Source: SourceClassifier}
	}
	return ApplyFloor(rv, g.floor)
}

// ApplyFloor converts a classifier answer into a verdict. An auto-reply
// below floor is forced to human review.
func ApplyFloor(rv RiskVerdict, floor float64) Verdict {
	conf := rv.Confidence
	if math.IsNaN(conf) || conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	v := Verdict{Confidence: conf, Reason: strings.TrimSpace(rv.Reason), Source: SourceClassifier}
	switch {
	case rv.CanAutoReply && conf >= floor:
		v.Classification = AutoReplySafe
	case rv.CanAutoReply:
		v.Classification = HumanReviewRequired
		v.Reason = fmt.Sprintf("confidence %.2f below floor %.2f: %s", conf, floor, v.Reason)
	default:
		v.Classification = HumanReviewRequired
	}
	return v
}

// MarkForReview flags lead for human takeover and stops all automated
// timers. It reports whether the handoff notification is still owed.
func MarkForReview(lead *leads.Lead, reason string) bool {
	lead.HumanReview.Needed = true
	lead.HumanReview.Reason = reason
	lead.StopCadence()
	lead.StopFollowUps()
	return lead.HumanReview.NotifiedAt == nil
}

// MarkNotified records that the handoff notification went out.
func MarkNotified(lead *leads.Lead, now time.Time) {
	at := now.UTC()
	lead.HumanReview.NotifiedAt = &at
}
