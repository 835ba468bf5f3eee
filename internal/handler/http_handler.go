package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-risk-exceptions/internal/audit"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/logger"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
	"github.com/pesio-ai/be-risk-exceptions/internal/service"
)

// maxListOffset caps how deep List can page.
const maxListOffset = 100_000

// ExceptionService is the engine surface the HTTP layer drives.
type ExceptionService interface {
	Submit(ctx context.Context, actor service.Identity, in service.SubmitInput) (*service.RequestView, error)
	Assign(ctx context.Context, id string, actor service.Identity) (*service.RequestView, error)
	Decide(ctx context.Context, id string, actor service.Identity, in service.DecideInput) (*service.RequestView, error)
	Edit(ctx context.Context, id string, actor service.Identity, in service.EditInput) (*service.RequestView, error)
	Delete(ctx context.Context, id string, actor service.Identity) error
	Get(ctx context.Context, id string) (*service.RequestView, error)
	List(ctx context.Context, filter repository.Filter) ([]*service.RequestView, error)
	AuditTrail(ctx context.Context, id string) ([]*audit.Entry, error)
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service ExceptionService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service ExceptionService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// Register mounts the exception routes. Callers must install authentication.
func (h *HTTPHandler) Register(r chi.Router) {
	r.Route("/exceptions", func(r chi.Router) {
		r.Post("/", h.SubmitException)
		r.Get("/", h.ListExceptions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetException)
			r.Patch("/", h.EditException)
			r.Delete("/", h.DeleteException)
			r.Post("/assign", h.AssignException)
			r.Post("/decisions", h.DecideException)
			r.Get("/audit", h.GetAuditTrail)
		})
	})
	r.Get("/catalog/roles", h.PreviewRoles)
}

// ── DTOs ──────────────────────────────────────────────────────────────────────

type submitRequest struct {
	Type          string `json:"type"`
	ResidualRisk  string `json:"residual_risk"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Justification string `json:"justification"`
	Mitigations   string `json:"mitigations"`
	Draft         bool   `json:"draft"`
}

type editRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Justification *string `json:"justification"`
	Mitigations   *string `json:"mitigations"`
	ResidualRisk  *string `json:"residual_risk"`
}

type decideRequest struct {
	Role    string `json:"role"`
	Outcome string `json:"outcome"`
	Comment string `json:"comment"`
}

type exceptionResponse struct {
	ID            string                `json:"id"`
	Type          string                `json:"type"`
	ResidualRisk  string                `json:"residual_risk"`
	Status        string                `json:"status"`
	RequiredRoles []string              `json:"required_roles"`
	Decisions     []repository.Decision `json:"decisions"`
	Title         string                `json:"title"`
	Description   string                `json:"description,omitempty"`
	Justification string                `json:"justification,omitempty"`
	Mitigations   string                `json:"mitigations,omitempty"`
	SubmittedBy   string                `json:"submitted_by"`
	SubmittedAt   time.Time             `json:"submitted_at"`
	ExpiryDate    *time.Time            `json:"expiry_date,omitempty"`
	Expired       bool                  `json:"expired"`
	Version       int64                 `json:"version"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func toResponse(v *service.RequestView) exceptionResponse {
	roles := make([]string, len(v.RequiredRoles))
	for i, r := range v.RequiredRoles {
		roles[i] = string(r)
	}
	decisions := v.Decisions
	if decisions == nil {
		decisions = []repository.Decision{}
	}
	return exceptionResponse{
		ID:            v.ID,
		Type:          string(v.Type),
		ResidualRisk:  string(v.ResidualRisk),
		Status:        string(v.Status),
		RequiredRoles: roles,
		Decisions:     decisions,
		Title:         v.Title,
		Description:   v.Description,
		Justification: v.Justification,
		Mitigations:   v.Mitigations,
		SubmittedBy:   v.SubmittedBy,
		SubmittedAt:   v.SubmittedAt,
		ExpiryDate:    v.ExpiryDate,
		Expired:       v.Expired,
		Version:       v.Version,
		UpdatedAt:     v.UpdatedAt,
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// SubmitException handles POST /exceptions
func (h *HTTPHandler) SubmitException(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}

	typ, err := policy.ParseRequestType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	risk, err := policy.ParseRiskLevel(req.ResidualRisk)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.service.Submit(r.Context(), actor, service.SubmitInput{
		Type:          typ,
		ResidualRisk:  risk,
		Title:         req.Title,
		Description:   req.Description,
		Justification: req.Justification,
		Mitigations:   req.Mitigations,
		Draft:         req.Draft,
	})
	if err != nil {
		h.fail(w, r, "submit", err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(view))
}

// ListExceptions handles GET /exceptions
func (h *HTTPHandler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter repository.Filter

	if s := q.Get("status"); s != "" {
		status, err := repository.ParseStatus(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}
	if t := q.Get("type"); t != "" {
		typ, err := policy.ParseRequestType(t)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Type = &typ
	}
	filter.SubmittedBy = q.Get("submitted_by")
	if q.Get("mine") == "true" {
		filter.SubmittedBy = actor.ActorID
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	// Bound the page before multiplying so the offset cannot overflow.
	if maxPage := maxListOffset/pageSize + 1; page > maxPage {
		page = maxPage
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	views, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list", err)
		return
	}

	out := make([]exceptionResponse, len(views))
	for i, v := range views {
		out[i] = toResponse(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exceptions": out,
		"page":       page,
		"page_size":  pageSize,
	})
}

// GetException handles GET /exceptions/{id}
func (h *HTTPHandler) GetException(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	view, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(view))
}

// EditException handles PATCH /exceptions/{id}
func (h *HTTPHandler) EditException(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req editRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := service.EditInput{
		Title:         req.Title,
		Description:   req.Description,
		Justification: req.Justification,
		Mitigations:   req.Mitigations,
	}
	if req.ResidualRisk != nil {
		risk, err := policy.ParseRiskLevel(*req.ResidualRisk)
		if err != nil {
			writeError(w, err)
			return
		}
		in.ResidualRisk = &risk
	}

	view, err := h.service.Edit(r.Context(), chi.URLParam(r, "id"), actor, in)
	if err != nil {
		h.fail(w, r, "edit", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(view))
}

// DeleteException handles DELETE /exceptions/{id}
func (h *HTTPHandler) DeleteException(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		h.fail(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignException handles POST /exceptions/{id}/assign
func (h *HTTPHandler) AssignException(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	view, err := h.service.Assign(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.fail(w, r, "assign", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(view))
}

// DecideException handles POST /exceptions/{id}/decisions
func (h *HTTPHandler) DecideException(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req decideRequest
	if !h.decode(w, r, &req) {
		return
	}

	role, err := policy.ParseApproverRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome, err := policy.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), actor, service.DecideInput{
		Role:    role,
		Outcome: outcome,
		Comment: req.Comment,
	})
	if err != nil {
		h.fail(w, r, "decide", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(view))
}

// GetAuditTrail handles GET /exceptions/{id}/audit
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	entries, err := h.service.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "audit", err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// PreviewRoles handles GET /catalog/roles?type=&residual_risk=
func (h *HTTPHandler) PreviewRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, err := policy.ParseRequestType(q.Get("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	risk, err := policy.ParseRiskLevel(q.Get("residual_risk"))
	if err != nil {
		writeError(w, err)
		return
	}

	roles := policy.Resolve(typ, risk)
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":            typ,
		"residual_risk":   risk,
		"required_roles":  out,
		"validity_months": policy.ValidityMonths(risk),
	})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (service.Identity, bool) {
	identity, ok := IdentityFrom(r.Context())
	if !ok || identity.ActorID == "" {
		writeStatusError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "authentication required")
		return service.Identity{}, false
	}
	return identity, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := errors.CodeOf(err)
	event := h.log.Warn()
	if code == errors.ErrCodeInternal {
		event = h.log.Error()
	}
	event.Err(err).
		Str("op", op).
		Str("request_id", chi.URLParam(r, "id")).
		Str("code", string(code)).
		Msg("Request failed")
	writeError(w, err)
}
