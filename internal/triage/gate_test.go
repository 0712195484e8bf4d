package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

type fakeClassifier struct {
	verdict RiskVerdict
	err     error
	calls   int
}

func (f *fakeClassifier) Classify(context.Context, string) (RiskVerdict, error) {
	f.calls++
	return f.verdict, f.err
}

func TestGate_RuleOrder(t *testing.T) {
	classifier := &fakeClassifier{verdict: RiskVerdict{CanAutoReply: true, Confidence: 0.99}}
	gate := NewGate(classifier, 0, nil, nil)

	tests := []struct {
		name string
		in   Input
		want Classification
	}{
		{"empty", Input{Text: "   "}, NonLead},
		{"only quoted history", Input{Text: "> are you still interested?"}, NonLead},
		{"out of office", Input{Text: "I am out of the office until Monday."}, NonLead},
		{"bounce sender", Input{Text: "Your message could not be sent", From: "MAILER-DAEMON@mx.example.com"}, NonLead},
		{"stop", Input{Text: "STOP"}, ExplicitOptOut},
		{"stop beats price", Input{Text: "unsubscribe, your price is too high"}, ExplicitOptOut},
		{"price", Input{Text: "What's your best price?"}, HumanReviewRequired},
		{"price beats scheduling", Input{Text: "Can I come in Tuesday to talk price"}, HumanReviewRequired},
		{"financing", Input{Text: "what APR can I get"}, HumanReviewRequired},
		{"availability", Input{Text: "Is it still available?"}, AutoReplySafe},
		{"multi option", Input{Text: "Tuesday at 3 or Thursday at 5"}, AutoReplySafe},
		{"tomorrow", Input{Text: "tomorrow works"}, AutoReplySafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gate.Triage(context.Background(), tt.in)
			assert.Equal(t, tt.want, got.Classification, got.Reason)
			assert.Equal(t, SourceRules, got.Source)
		})
	}
	assert.Equal(t, 0, classifier.calls, "rules must settle these without the model")
}

func TestGate_NonLeadTransience(t *testing.T) {
	gate := NewGate(nil, 0, nil, nil)
	tests := []struct {
		name string
		in   Input
		want bool
	}{
		{"out of office", Input{Text: "I am out of the office until Monday."}, true},
		{"away", Input{Text: "I am currently on vacation and will be back on the 20th"}, true},
		{"empty", Input{Text: " "}, true},
		{"bounce text", Input{Text: "Delivery Status Notification (Failure)"}, false},
		{"bounce sender", Input{Text: "Your message could not be sent", From: "mailer-daemon@mx.example.com"}, false},
		{"unmonitored", Input{Text: "This mailbox is not monitored."}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gate.Triage(context.Background(), tt.in)
			assert.Equal(t, NonLead, got.Classification, got.Reason)
			assert.Equal(t, tt.want, got.Transient)
		})
	}
}

func TestGate_SafeIntentConfidence(t *testing.T) {
	got := NewGate(nil, 0, nil, nil).Triage(context.Background(), Input{Text: "can I schedule a test drive"})
	assert.Equal(t, AutoReplySafe, got.Classification)
	assert.GreaterOrEqual(t, got.Confidence, DefaultConfidenceFloor)
}

func TestGate_ClassifierFloor(t *testing.T) {
	for _, conf := range []float64{0, 0.1, 0.5, 0.74, 0.7499} {
		classifier := &fakeClassifier{verdict: RiskVerdict{CanAutoReply: true, Confidence: conf, Reason: "looks fine"}}
		got := NewGate(classifier, 0.75, nil, nil).Triage(context.Background(), Input{Text: "Does it have heated seats?"})
		assert.Equal(t, HumanReviewRequired, got.Classification, "confidence %v", conf)
		assert.Equal(t, 1, classifier.calls)
	}

	classifier := &fakeClassifier{verdict: RiskVerdict{CanAutoReply: true, Confidence: 0.75}}
	got := NewGate(classifier, 0.75, nil, nil).Triage(context.Background(), Input{Text: "Does it have heated seats?"})
	assert.Equal(t, AutoReplySafe, got.Classification)
	assert.Equal(t, SourceClassifier, got.Source)
}

func TestGate_ClassifierDeclines(t *testing.T) {
	classifier := &fakeClassifier{verdict: RiskVerdict{CanAutoReply: false, Confidence: 0.99, Reason: "mentions an injury"}}
	got := NewGate(classifier, 0.75, nil, nil).Triage(context.Background(), Input{Text: "my kid got hurt in the car seat"})
	assert.Equal(t, HumanReviewRequired, got.Classification)
	assert.Equal(t, "mentions an injury", got.Reason)
}

func TestGate_ClassifierErrorFailsClosed(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("timeout")}
	got := NewGate(classifier, 0.75, nil, nil).Triage(context.Background(), Input{Text: "Does it have heated seats?"})
	assert.Equal(t, HumanReviewRequired, got.Classification)
	assert.Contains(t, got.Reason, "timeout")

	got = NewGate(nil, 0.75, nil, nil).Triage(context.Background(), Input{Text: "Does it have heated seats?"})
	assert.Equal(t, HumanReviewRequired, got.Classification)
}

func TestApplyFloor_ClampsConfidence(t *testing.T) {
	assert.Equal(t, 1.0, ApplyFloor(RiskVerdict{CanAutoReply: true, Confidence: 7}, 0.75).Confidence)
	assert.Equal(t, HumanReviewRequired, ApplyFloor(RiskVerdict{CanAutoReply: true, Confidence: -1}, 0.75).Classification)
}

func TestMarkForReview_NotifyOnce(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	lead := leads.NewLead("opp-1", now)
	due := now.Add(time.Hour)
	lead.FollowUpDueAt = &due
	lead.SetCadence(leads.CadenceState{Channel: leads.ChannelEmail, DayIndex: 2, NextDueAt: &due})

	require.True(t, MarkForReview(lead, "price"))
	MarkNotified(lead, now)
	assert.Nil(t, lead.FollowUpDueAt)
	assert.Nil(t, lead.CadenceFor(leads.ChannelEmail).NextDueAt)

	for i := 0; i < 3; i++ {
		assert.False(t, MarkForReview(lead, "financing"))
	}
	assert.Equal(t, "financing", lead.HumanReview.Reason)
	assert.True(t, lead.HumanReview.Needed)
}
