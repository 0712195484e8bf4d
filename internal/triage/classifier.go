package triage

import (
	"context"
	"errors"
	"strings"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/llm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/provider"
)

const defaultClassifierPrompt = `You triage inbound messages from car dealership sales leads.

Decide whether an automated assistant may reply without a salesperson.
The assistant may answer availability, scheduling and general vehicle questions.
It must NOT handle pricing, negotiation, financing, trade-in values, complaints, legal threats or anything ambiguous.

Return ONLY JSON in this exact format:
{"can_auto_reply":true|false,"confidence":0.0,"reason":""}

confidence is your certainty in can_auto_reply, from 0 to 1.`

// LLMClassifier asks a language model for a risk verdict.
type LLMClassifier struct {
	client llm.Client
	model  string
	prompt string
	policy provider.Policy
}

// NewLLMClassifier wires a classifier; policy bounds each model call.
func NewLLMClassifier(client llm.Client, model string, policy provider.Policy) *LLMClassifier {
	if client == nil {
		panic("triage: llm client cannot be nil")
	}
	if policy.Name == "" {
		policy.Name = "classifier"
	}
	return &LLMClassifier{client: client, model: model, prompt: defaultClassifierPrompt, policy: policy}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (RiskVerdict, error) {
	var resp llm.Response
	err := provider.Retry(ctx, c.policy, "classify", func(ctx context.Context) error {
		var err error
		resp, err = c.client.Complete(ctx, llm.UserPrompt(c.model, c.prompt, "Message:\n"+text, 128))
		return err
	})
	if err != nil {
		return RiskVerdict{}, err
	}
	return parseRiskVerdict(resp.Text)
}

type riskPayload struct {
	CanAutoReply *bool   `json:"can_auto_reply"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

func parseRiskVerdict(raw string) (RiskVerdict, error) {
	var payload riskPayload
	if err := llm.DecodeJSON(raw, &payload); err != nil {
		return RiskVerdict{}, err
	}
	if payload.CanAutoReply == nil {
		return RiskVerdict{}, errors.New("triage: classifier omitted can_auto_reply")
	}
	return RiskVerdict{
		CanAutoReply: *payload.CanAutoReply,
		Confidence:   payload.Confidence,
		Reason:       strings.TrimSpace(payload.Reason),
	}, nil
}
