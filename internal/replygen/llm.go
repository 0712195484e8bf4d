package replygen

import (
	"context"
	"fmt"
	"strings"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/llm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/provider"
)

const systemPrompt = `You are %s, a friendly sales assistant at %s, writing to a car buyer.

Rules:
- Be brief and warm; SMS replies must be under 300 characters.
- Never quote prices, discounts, payments, financing terms or trade-in values.
- Never confirm an appointment unless the facts say it is booked.
- If the customer needs a salesperson, set needs_handoff to true and explain why in handoff_reason.

Return ONLY JSON:
{"subject":"","body":"","needs_handoff":false,"handoff_reason":""}`

const historyLimit = 12

// LLM drafts replies with a language model.
type LLM struct {
	client llm.Client
	model  string
	policy provider.Policy
}

func NewLLM(client llm.Client, model string, policy provider.Policy) *LLM {
	if client == nil {
		panic("replygen: llm client cannot be nil")
	}
	if policy.Name == "" {
		policy.Name = "generator"
	}
	return &LLM{client: client, model: model, policy: policy}
}

func (g *LLM) Generate(ctx context.Context, rc ReplyContext) (Reply, error) {
	agent := rc.Persona.AgentName
	if agent == "" {
		agent = "Alex"
	}
	req := llm.Request{
		Model:       g.model,
		System:      []string{fmt.Sprintf(systemPrompt, agent, fill("{dealer}", rc))},
		Messages:    g.messages(rc),
		MaxTokens:   512,
		Temperature: 0.4,
	}
	var resp llm.Response
	err := provider.Retry(ctx, g.policy, "generate_reply", func(ctx context.Context) error {
		var err error
		resp, err = g.client.Complete(ctx, req)
		return err
	})
	if err != nil {
		return Reply{}, err
	}
	var r Reply
	if err := llm.DecodeJSON(resp.Text, &r); err != nil {
		return Reply{}, fmt.Errorf("replygen: %w", err)
	}
	if strings.TrimSpace(r.Body) == "" {
		return Reply{}, fmt.Errorf("replygen: model returned an empty body")
	}
	return finish(r, rc.Channel), nil
}

func (g *LLM) messages(rc ReplyContext) []llm.Message {
	history := rc.History
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s over %s\n", rc.Kind, rc.Channel)
	fmt.Fprintf(&b, "Customer: %s\nInterested in: %s\n", rc.LeadName, rc.Interest)
	if rc.Booked != "" {
		fmt.Fprintf(&b, "Appointment booked for: %s\n", rc.Booked)
	} else if ex := rc.Appointment; ex != nil && ex.Classification != "" {
		fmt.Fprintf(&b, "Scheduling read of the last message: %s (%s)\n", ex.Classification, ex.Reason)
	}
	if rc.Template != nil {
		fmt.Fprintf(&b, "Base this touch on: %s\n", fill(rc.Template.Text(rc.Channel), rc))
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range history {
			who := "Customer"
			if m.Direction == leads.DirectionOutbound {
				who = "Us"
			}
			fmt.Fprintf(&b, "%s: %s\n", who, m.Text)
		}
	}
	if rc.Inbound != "" {
		fmt.Fprintf(&b, "\nReply to the customer's latest message:\n%s\n", rc.Inbound)
	}
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}
