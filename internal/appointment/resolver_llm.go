package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/llm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/provider"
)

const resolverPrompt = `You extract appointment intent from a car dealership lead's message.

Return ONLY JSON:
{"classification":"EXACT_TIME|VAGUE_DATE|VAGUE_WINDOW|OPEN_ENDED|MULTI_OPTION|RESCHEDULE|NO_INTENT","iso":"","confidence":0.0,"window":"","reason":""}

Rules:
- iso is RFC 3339 with the store's UTC offset, e.g. 2025-03-11T15:00:00-04:00.
- Never return a time at or before the current time.
- morning means 10:00, afternoon means 14:00, evening means 17:00; set window to that word and classification VAGUE_WINDOW.
- A day with no time is VAGUE_DATE with iso "".
- More than one proposed time is MULTI_OPTION with iso "".
- A time outside the store hours for that weekday gets iso "" and a reason naming that day's hours.
- Asking to move an existing appointment is RESCHEDULE; include iso when the new time is exact.`

// LLMResolver delegates date resolution to a language model.
type LLMResolver struct {
	client llm.Client
	model  string
	policy provider.Policy
}

func NewLLMResolver(client llm.Client, model string, policy provider.Policy) *LLMResolver {
	if client == nil {
		panic("appointment: llm client cannot be nil")
	}
	if policy.Name == "" {
		policy.Name = "extractor"
	}
	return &LLMResolver{client: client, model: model, policy: policy}
}

func (r *LLMResolver) Resolve(ctx context.Context, req ResolveRequest) (Extraction, error) {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	now := req.Now.In(loc)
	user := fmt.Sprintf("Current time: %s (%s, %s)\nStore hours: %s\n\nMessage:\n%s",
		now.Format(time.RFC3339), now.Weekday(), loc, req.Hours.Summary(), strings.TrimSpace(req.Text))

	var resp llm.Response
	err := provider.Retry(ctx, r.policy, "resolve_appointment", func(ctx context.Context) error {
		var err error
		resp, err = r.client.Complete(ctx, llm.UserPrompt(r.model, resolverPrompt, user, 256))
		return err
	})
	if err != nil {
		return Extraction{}, &ExtractionError{Text: req.Text, Err: err}
	}
	var ex Extraction
	if err := llm.DecodeJSON(resp.Text, &ex); err != nil {
		return Extraction{}, &ExtractionError{Text: req.Text, Err: err}
	}
	ex.Classification = Classification(strings.ToUpper(strings.TrimSpace(string(ex.Classification))))
	if !ex.Classification.valid() {
		return Extraction{}, &ExtractionError{Text: req.Text, Err: fmt.Errorf("unknown classification %q", ex.Classification)}
	}
	ex.Window = strings.ToLower(strings.TrimSpace(ex.Window))
	return ex, nil
}
