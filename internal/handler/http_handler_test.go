package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-risk-exceptions/internal/audit"
	"github.com/pesio-ai/be-risk-exceptions/internal/metrics"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/logger"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
	"github.com/pesio-ai/be-risk-exceptions/internal/service"
)

const testSigningKey = "test-signing-key"

var (
	ownerID = service.Identity{ActorID: "u-owner", Email: "owner@example.com"}
	cyberID = service.Identity{ActorID: "u-cyber", GrantedRoles: []policy.ApproverRole{policy.RoleCyber}}
)

type testServer struct {
	router http.Handler
	auth   *Authenticator
	health error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	engine := service.NewApprovalEngine(
		repository.NewMemoryExceptionRepository(),
		audit.NewLog(repository.NewMemoryAuditRepository(), nil),
		repository.NewMemoryTransactor(),
		nil,
		nil,
		metrics.New(prometheus.NewRegistry()),
		log,
		service.Options{},
	)
	t.Cleanup(engine.WaitForNotifications)

	ts := &testServer{auth: NewAuthenticator(testSigningKey, log)}
	ts.router = NewRouter(RouterConfig{
		Handler: NewHTTPHandler(engine, log),
		Auth:    ts.auth,
		Log:     log,
		Health:  func(context.Context) error { return ts.health },
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, as *service.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := ts.auth.Sign(*as, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestAuthenticationRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/exceptions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exceptions", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := NewAuthenticator("another-key", logger.Nop())
	token, err := other.Sign(ownerID, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/exceptions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, nil).Code)

	ts.health = fmt.Errorf("database unreachable")
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/health", nil, nil).Code)
}

func TestPreviewRoles(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/catalog/roles?type=cyber&residual_risk=high", &ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		RequiredRoles  []string `json:"required_roles"`
		ValidityMonths int      `json:"validity_months"`
	}](t, rec)
	assert.Equal(t, []string{"cyber_approver", "cio_approver", "cro_approver"}, body.RequiredRoles)
	assert.Equal(t, 3, body.ValidityMonths)

	rec = ts.do(t, http.MethodGet, "/api/v1/catalog/roles?type=payroll&residual_risk=high", &ownerID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExceptionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/exceptions", &ownerID, map[string]any{
		"type":          "cyber",
		"residual_risk": "low",
		"title":         "Unsupported OS on lab kiosk",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[exceptionResponse](t, rec)
	assert.Equal(t, "assigned", created.Status)
	assert.Equal(t, []string{"cyber_approver", "cio_approver"}, created.RequiredRoles)
	assert.Empty(t, created.Decisions)

	base := "/api/v1/exceptions/" + created.ID

	// CIO may not go before cyber.
	cio := service.Identity{ActorID: "u-cio", GrantedRoles: []policy.ApproverRole{policy.RoleCIO}}
	rec = ts.do(t, http.MethodPost, base+"/decisions", &cio, map[string]string{"role": "cio_approver", "outcome": "approve"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	errBody := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "UNAUTHORIZED", string(errBody.Code))

	rec = ts.do(t, http.MethodPost, base+"/decisions", &cyberID, map[string]string{"role": "cyber_approver", "outcome": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_process", decodeBody[exceptionResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, base+"/decisions", &cyberID, map[string]string{"role": "cyber_approver", "outcome": "reject"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_DECIDED", string(decodeBody[errorResponse](t, rec).Code))

	rec = ts.do(t, http.MethodPost, base+"/decisions", &cio, map[string]string{"role": "cio_approver", "outcome": "approve", "comment": "ok until refresh"})
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decodeBody[exceptionResponse](t, rec)
	assert.Equal(t, "approved", approved.Status)
	require.NotNil(t, approved.ExpiryDate)
	assert.False(t, approved.Expired)
	assert.Len(t, approved.Decisions, 2)

	rec = ts.do(t, http.MethodGet, base, &cyberID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, approved.Version, decodeBody[exceptionResponse](t, rec).Version)

	rec = ts.do(t, http.MethodGet, base+"/audit", &ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decodeBody[struct {
		Entries []audit.Entry `json:"entries"`
	}](t, rec)
	require.Len(t, trail.Entries, 4)
	assert.Equal(t, audit.ActionCreated, trail.Entries[0].Action)
	assert.Equal(t, audit.ActionStatusChanged, trail.Entries[3].Action)

	rec = ts.do(t, http.MethodGet, "/api/v1/exceptions?status=approved&mine=true", &ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Exceptions []exceptionResponse `json:"exceptions"`
	}](t, rec)
	require.Len(t, list.Exceptions, 1)
	assert.Equal(t, created.ID, list.Exceptions[0].ID)
}

func TestDraftEditAssignDelete(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/exceptions", &ownerID, map[string]any{
		"type": "data", "residual_risk": "low", "title": "Export to vendor", "draft": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := decodeBody[exceptionResponse](t, rec)
	assert.Equal(t, "pending", draft.Status)
	base := "/api/v1/exceptions/" + draft.ID

	rec = ts.do(t, http.MethodPatch, base, &ownerID, map[string]any{"residual_risk": "medium"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"data_approver", "cro_approver"}, decodeBody[exceptionResponse](t, rec).RequiredRoles)

	rec = ts.do(t, http.MethodPatch, base, &cyberID, map[string]any{"title": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPatch, base, &ownerID, map[string]any{"residual_risk": "extreme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/assign", &ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "assigned", decodeBody[exceptionResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPatch, base, &ownerID, map[string]any{"title": "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", string(decodeBody[errorResponse](t, rec).Code))

	rec = ts.do(t, http.MethodDelete, base, &cyberID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodDelete, base, &ownerID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, base, &ownerID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"/audit", &ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decodeBody[struct {
		Entries []audit.Entry `json:"entries"`
	}](t, rec)
	assert.Equal(t, audit.ActionDeleted, trail.Entries[len(trail.Entries)-1].Action)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/exceptions", &ownerID, map[string]any{
		"type": "payroll", "residual_risk": "low", "title": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "INVALID_INPUT", string(body.Code))
	assert.Equal(t, "type", body.Details["field"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exceptions", bytes.NewBufferString("{not json"))
	token, err := ts.auth.Sign(ownerID, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/exceptions/missing/decisions", &cyberID,
		map[string]string{"role": "cyber_approver", "outcome": "approve"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/exceptions/missing/decisions", &cyberID,
		map[string]string{"role": "cyber_approver", "outcome": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/exceptions?status=archived", &ownerID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyDropsUnknownRoles(t *testing.T) {
	auth := NewAuthenticator(testSigningKey, logger.Nop())
	token, err := auth.Sign(service.Identity{
		ActorID:      "u-1",
		GrantedRoles: []policy.ApproverRole{policy.RoleCRO, policy.ApproverRole("janitor")},
		Admin:        true,
	}, time.Minute)
	require.NoError(t, err)

	identity, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", identity.ActorID)
	assert.True(t, identity.Admin)
	assert.Equal(t, []policy.ApproverRole{policy.RoleCRO}, identity.GrantedRoles)

	expired, err := auth.Sign(service.Identity{ActorID: "u-1"}, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Verify(expired)
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor("CONFLICT"))
	assert.Equal(t, http.StatusInternalServerError, statusFor("DISPATCH_ERROR"))
}

type filterCapturingService struct {
	ExceptionService
	filters []repository.Filter
}

func (s *filterCapturingService) List(_ context.Context, filter repository.Filter) ([]*service.RequestView, error) {
	s.filters = append(s.filters, filter)
	return nil, nil
}

func TestListPagingIsBounded(t *testing.T) {
	log := logger.Nop()
	svc := &filterCapturingService{}
	auth := NewAuthenticator(testSigningKey, log)
	ts := &testServer{auth: auth, router: NewRouter(RouterConfig{
		Handler: NewHTTPHandler(svc, log),
		Auth:    auth,
		Log:     log,
	})}

	rec := ts.do(t, http.MethodGet, "/api/v1/exceptions?page=9223372036854775807", &ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}](t, rec)
	assert.Equal(t, maxListOffset/50+1, body.Page)
	assert.Equal(t, 50, body.PageSize)

	rec = ts.do(t, http.MethodGet, "/api/v1/exceptions?page=3&page_size=20", &ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, svc.filters, 2)
	assert.Equal(t, maxListOffset, svc.filters[0].Offset)
	assert.Equal(t, 50, svc.filters[0].Limit)
	assert.Equal(t, 40, svc.filters[1].Offset)
	assert.Equal(t, 20, svc.filters[1].Limit)
}
