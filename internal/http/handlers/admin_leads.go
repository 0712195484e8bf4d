package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/http/middleware"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/inbound"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// Enroller creates leads from CRM campaigns.
type Enroller interface {
	Enroll(ctx context.Context, req engine.EnrollRequest) (engine.Result, error)
}

// LeadReader loads a lead aggregate.
type LeadReader interface {
	FindByKey(ctx context.Context, key string) (*leads.Lead, error)
}

// LeadsHandler serves enrollment and the admin read API.
type LeadsHandler struct {
	enroller Enroller
	store    LeadReader
	validate *validator.Validate
	logger   *logging.Logger
}

func NewLeadsHandler(enroller Enroller, store LeadReader, logger *logging.Logger) *LeadsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LeadsHandler{enroller: enroller, store: store, validate: validator.New(), logger: logger}
}

// EnrollRequest is the body of POST /v1/leads.
type EnrollRequest struct {
	Key          string `json:"key" validate:"required,max=128"`
	Name         string `json:"name" validate:"max=200"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone" validate:"omitempty,e164"`
	Interest     string `json:"interest" validate:"max=200"`
	StartCadence bool   `json:"startCadence"`
}

type leadResponse struct {
	Lead      *leads.Lead `json:"lead"`
	NextDueAt *time.Time  `json:"nextDueAt,omitempty"`
}

// Enroll handles POST /v1/leads.
func (h *LeadsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req EnrollRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Phone != "" {
		req.Phone = inbound.NormalizePhone(req.Phone)
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if req.Email == "" && req.Phone == "" {
		writeError(w, http.StatusBadRequest, "email or phone is required")
		return
	}

	res, err := h.enroller.Enroll(r.Context(), engine.EnrollRequest{
		Key:          req.Key,
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Interest:     req.Interest,
		StartCadence: req.StartCadence,
	})
	switch {
	case errors.Is(err, leads.ErrExists):
		writeError(w, http.StatusConflict, "lead already exists")
		return
	case errors.Is(err, leads.ErrMissingKey):
		writeError(w, http.StatusBadRequest, "key is required")
		return
	case err != nil:
		h.logger.Error("enroll lead failed", "lead_key", req.Key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("lead enrolled", "lead_key", res.LeadKey, "mode", res.Mode, "by", middleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusCreated, webhookResponse{LeadKey: res.LeadKey, Outcome: string(res.Outcome), Mode: string(res.Mode)})
}

// GetLead handles GET /admin/leads/{key}.
func (h *LeadsHandler) GetLead(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || strings.TrimSpace(key) == "" {
		writeError(w, http.StatusBadRequest, "missing lead key")
		return
	}
	lead, err := h.store.FindByKey(r.Context(), key)
	if errors.Is(err, leads.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get lead", "lead_key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, leadResponse{Lead: lead, NextDueAt: lead.NextDueAt()})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
