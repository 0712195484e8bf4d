package appointment

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

var tracer = otel.Tracer("leadengine.appointment")

// Extractor runs the rules first and asks the model resolver only for
// phrasings the rules leave open. Every result passes store-hours and
// futurity checks before it is returned.
type Extractor struct {
	hours    StoreHours
	loc      *time.Location
	resolver Resolver
	logger   *logging.Logger
}

// NewExtractor builds an extractor. resolver may be nil.
func NewExtractor(hours StoreHours, loc *time.Location, resolver Resolver, logger *logging.Logger) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{hours: hours, loc: loc, resolver: resolver, logger: logger}
}

// Location is the store timezone.
func (e *Extractor) Location() *time.Location {
	return e.loc
}

// Extract never fails: unreadable text is NO_INTENT.
func (e *Extractor) Extract(ctx context.Context, text string, now time.Time) Extraction {
	ctx, span := tracer.Start(ctx, "appointment.extract")
	defer span.End()

	req := ResolveRequest{Text: text, Now: now, Location: e.loc, Hours: e.hours}
	ex, settled := resolveRules(req)
	if !settled && e.resolver != nil {
		resolved, err := e.resolver.Resolve(ctx, req)
		if err != nil {
			var exErr *ExtractionError
			if !errors.As(err, &exErr) {
				exErr = &ExtractionError{Text: text, Err: err}
			}
			e.logger.Warn("appointment: extraction failed, treating as no intent", "error", exErr)
			ex = Extraction{Classification: NoIntent, Reason: exErr.Error()}
		} else {
			ex = resolved
		}
	}
	ex = e.checkHours(ex)
	ex = Validate(ex, now)

	span.SetAttributes(
		attribute.String("appointment.classification", string(ex.Classification)),
		attribute.Bool("appointment.resolved", ex.ISO != ""),
		attribute.Bool("appointment.rules_only", settled),
	)
	return ex
}

func (e *Extractor) checkHours(ex Extraction) Extraction {
	t, ok := ex.Time()
	if !ok {
		return ex
	}
	local := t.In(e.loc)
	if e.hours.Contains(local) {
		return ex
	}
	ex.ISO = ""
	ex.Window = ""
	ex.Reason = "outside store hours: " + e.hours.Describe(local.Weekday())
	return ex
}

// Validate is the authoritative local check on an extraction. ISO must parse
// as RFC 3339 with an offset and lie strictly after now; otherwise ISO and
// Window are cleared and Confidence drops to zero.
func Validate(ex Extraction, now time.Time) Extraction {
	if !ex.Classification.valid() {
		ex = Extraction{Classification: NoIntent, Reason: "unknown classification"}
	}
	if math.IsNaN(ex.Confidence) || ex.Confidence < 0 {
		ex.Confidence = 0
	}
	if ex.Confidence > 1 {
		ex.Confidence = 1
	}
	switch ex.Classification {
	case VagueDate, OpenEnded, MultiOption, NoIntent:
		ex.ISO = ""
	}
	if ex.Classification != VagueWindow {
		ex.Window = ""
	}
	if strings.TrimSpace(ex.ISO) == "" {
		ex.ISO = ""
		return ex
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(ex.ISO))
	switch {
	case err != nil:
		return invalidate(ex, "unparseable or timezone-less time")
	case !t.After(now):
		return invalidate(ex, "resolved time is not in the future")
	}
	ex.ISO = t.Format(time.RFC3339)
	return ex
}

func invalidate(ex Extraction, why string) Extraction {
	ex.ISO = ""
	ex.Window = ""
	ex.Confidence = 0
	if ex.Reason != "" {
		why = why + "; " + ex.Reason
	}
	ex.Reason = why
	return ex
}
