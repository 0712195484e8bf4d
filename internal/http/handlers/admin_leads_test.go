package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

type fakeEnroller struct {
	reqs []engine.EnrollRequest
	err  error
}

func (f *fakeEnroller) Enroll(_ context.Context, req engine.EnrollRequest) (engine.Result, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return engine.Result{LeadKey: req.Key}, f.err
	}
	mode := leads.ModeNew
	if req.StartCadence {
		mode = leads.ModeCadence
	}
	return engine.Result{LeadKey: req.Key, Outcome: engine.OutcomeEnrolled, Mode: mode}, nil
}

func TestEnrollLead(t *testing.T) {
	enroller := &fakeEnroller{}
	h := NewLeadsHandler(enroller, leads.NewMemoryStore(), nil)

	body := `{"key":"opp-9","name":"Dana","email":"Dana@Example.com","phone":"(650) 253-0000","interest":"2024 Civic","startCadence":true}`
	rec := httptest.NewRecorder()
	h.Enroll(rec, httptest.NewRequest(http.MethodPost, "/v1/leads", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	got := enroller.reqs[0]
	if got.Email != "dana@example.com" || got.Phone != "+16502530000" || !got.StartCadence {
		t.Fatalf("unexpected enroll request %+v", got)
	}
	if !strings.Contains(rec.Body.String(), `"mode":"CADENCE"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestEnrollLeadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing key", `{"email":"a@example.com"}`},
		{"bad email", `{"key":"k","email":"not-an-email"}`},
		{"no contact", `{"key":"k","name":"Dana"}`},
		{"bad json", `{"key":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enroller := &fakeEnroller{}
			h := NewLeadsHandler(enroller, leads.NewMemoryStore(), nil)
			rec := httptest.NewRecorder()
			h.Enroll(rec, httptest.NewRequest(http.MethodPost, "/v1/leads", strings.NewReader(tc.body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if len(enroller.reqs) != 0 {
				t.Fatalf("invalid request reached the engine")
			}
		})
	}
}

func TestEnrollLeadConflict(t *testing.T) {
	h := NewLeadsHandler(&fakeEnroller{err: leads.ErrExists}, leads.NewMemoryStore(), nil)
	rec := httptest.NewRecorder()
	h.Enroll(rec, httptest.NewRequest(http.MethodPost, "/v1/leads", strings.NewReader(`{"key":"opp-1","email":"a@example.com"}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestGetLead(t *testing.T) {
	store := leads.NewMemoryStore()
	now := time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)
	lead := leads.NewLead("sms:+16502530000", now)
	lead.Phone = "+16502530000"
	due := now.Add(48 * time.Hour)
	lead.FollowUpDueAt = &due
	if err := lead.Transition(leads.ModeConvo); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := store.Create(context.Background(), lead); err != nil {
		t.Fatalf("create: %v", err)
	}

	h := NewLeadsHandler(&fakeEnroller{}, store, nil)
	r := chi.NewRouter()
	r.Get("/admin/leads/{key}", h.GetLead)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/leads/"+url.PathEscape("sms:+16502530000"), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Lead      leads.Lead `json:"lead"`
		NextDueAt *time.Time `json:"nextDueAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Lead.Key != "sms:+16502530000" || resp.Lead.Mode != leads.ModeConvo {
		t.Fatalf("unexpected lead %+v", resp.Lead)
	}
	if resp.NextDueAt == nil || !resp.NextDueAt.Equal(due) {
		t.Fatalf("unexpected next due %v", resp.NextDueAt)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/leads/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
