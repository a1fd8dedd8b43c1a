package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/container"
	"github.com/garyjia/xpensure/internal/domain/entity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testAPI struct {
	t      *testing.T
	router *gin.Engine
	c      *container.Container
}

func newTestAPI(t *testing.T, rateLimit int) *testAPI {
	t.Helper()
	dir := t.TempDir()

	cfg := container.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "api.db")
	cfg.Database.MaxOpenConns = 1
	cfg.Storage.AttachmentDir = filepath.Join(dir, "media")

	c, err := container.NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	serverCfg := DefaultServerConfig()
	serverCfg.RatePerMinute = rateLimit
	serverCfg.RateBurst = rateLimit
	serverCfg.MediaDir = c.FileStore().BaseDir()

	services := c.Services()
	health := func() (bool, interface{}) {
		status := c.Health()
		return status.Overall, status.Components
	}
	srv := NewServer(serverCfg, Services{
		Requests:  services.Request,
		Directory: services.Directory,
		Dashboard: services.Dashboard,
	}, health, zap.NewNop())

	return &testAPI{t: t, router: srv.Router(), c: c}
}

func (a *testAPI) do(method, path, actor string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	return a.serve(req)
}

func (a *testAPI) serve(req *http.Request) (*httptest.ResponseRecorder, apiResponse) {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var resp apiResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (a *testAPI) submitReimbursement(actor, amount string) (*httptest.ResponseRecorder, apiResponse) {
	a.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(a.t, mw.WriteField("amount", amount))
	require.NoError(a.t, mw.WriteField("description", "Client dinner"))
	require.NoError(a.t, mw.WriteField("date", "2024-03-01"))
	fw, err := mw.CreateFormFile("attachments", "receipt.pdf")
	require.NoError(a.t, err)
	_, err = fw.Write([]byte("%PDF-1.4 receipt"))
	require.NoError(a.t, err)
	require.NoError(a.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/requests/reimbursement", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(ActorHeader, actor)
	return a.serve(req)
}

func (a *testAPI) seedDirectory() {
	a.t.Helper()
	employees := []map[string]string{
		{"employee_id": "hr", "full_name": "Hana", "email": "hr@example.com", "role": "HR"},
		{"employee_id": "mgr", "full_name": "Mona", "role": "Manager"},
		{"employee_id": "emp", "full_name": "Eli", "role": "Common", "reports_to": "mgr"},
		{"employee_id": "fv", "full_name": "Faye", "role": "Finance Verification"},
		{"employee_id": "ceo", "full_name": "Cato", "role": "CEO"},
		{"employee_id": "fp", "full_name": "Finn", "role": "Finance Payment"},
	}
	for _, e := range employees {
		w, resp := a.do(http.MethodPost, "/api/employees", "hr", e)
		require.Equal(a.t, http.StatusCreated, w.Code, "create %s: %s", e["employee_id"], resp.Error)
	}
}

func decodeRequest(t *testing.T, resp apiResponse) entity.Request {
	t.Helper()
	var req entity.Request
	require.NoError(t, json.Unmarshal(resp.Data, &req))
	return req
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t, 0)
	w, resp := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Contains(t, string(resp.Data), `"database"`)
}

func TestAPI_RequiresActorHeader(t *testing.T) {
	api := newTestAPI(t, 0)
	w, resp := api.do(http.MethodGet, "/api/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, resp.Success)
}

func TestAPI_ReimbursementLifecycle(t *testing.T) {
	api := newTestAPI(t, 0)
	api.seedDirectory()

	w, resp := api.submitReimbursement("emp", "120.50")
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	submitted := decodeRequest(t, resp)
	assert.Equal(t, entity.StatusPending, submitted.Status)
	require.NotNil(t, submitted.CurrentApproverID)
	assert.Equal(t, "mgr", *submitted.CurrentApproverID)
	require.Len(t, submitted.Attachments, 1)
	assert.Contains(t, submitted.Attachments[0].URL, "/media/reimbursement_attachments/reimbursement_")

	base := fmt.Sprintf("/api/requests/reimbursement/%d", submitted.ID)

	// media is served from the attachment folder
	w, _ = api.do(http.MethodGet, submitted.Attachments[0].URL, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// only the current approver may act
	w, resp = api.do(http.MethodPost, base+"/approve", "fv", map[string]string{"comment": "early"})
	assert.Equal(t, http.StatusForbidden, w.Code, resp.Error)

	// paying before approval is an invalid state
	w, _ = api.do(http.MethodPost, base+"/pay", "fp", map[string]interface{}{"payments": []interface{}{}})
	assert.Equal(t, http.StatusConflict, w.Code)

	for _, actor := range []string{"mgr", "fv", "ceo", "fp"} {
		w, resp = api.do(http.MethodPost, base+"/approve", actor, map[string]string{"comment": "ok"})
		require.Equal(t, http.StatusOK, w.Code, "approve by %s: %s", actor, resp.Error)
	}
	approved := decodeRequest(t, resp)
	assert.Equal(t, entity.StatusApproved, approved.Status)

	w, resp = api.do(http.MethodPost, base+"/pay", "fp", map[string]interface{}{
		"payments": []map[string]interface{}{
			{"amount": "120.50", "reference": "TX-1", "attachments": []string{"payments/tx-1.pdf"}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	assert.Equal(t, entity.StatusPaid, decodeRequest(t, resp).Status)

	w, resp = api.do(http.MethodGet, base+"/payment-attachments", "emp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["payments/tx-1.pdf"]`, string(resp.Data))

	w, resp = api.do(http.MethodGet, base+"/history", "emp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []entity.ApprovalHistory
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	require.Len(t, history, 6)
	assert.Equal(t, entity.ActionSubmitted, history[0].Action)
	assert.Equal(t, entity.ActionPaid, history[5].Action)

	w, resp = api.do(http.MethodGet, "/api/dashboard/employee/emp", "emp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"total_paid":"120.5"`)
}

func TestAPI_RejectAndErrors(t *testing.T) {
	api := newTestAPI(t, 0)
	api.seedDirectory()

	_, resp := api.submitReimbursement("emp", "40")
	req := decodeRequest(t, resp)
	base := fmt.Sprintf("/api/requests/reimbursements/%d", req.ID)

	w, _ := api.do(http.MethodPost, base+"/reject", "mgr", map[string]string{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = api.do(http.MethodPost, base+"/reject", "mgr", map[string]string{"reason": "no receipt"})
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	rejected := decodeRequest(t, resp)
	assert.Equal(t, entity.StatusRejected, rejected.Status)
	assert.Nil(t, rejected.CurrentApproverID)

	w, _ = api.do(http.MethodPost, base+"/approve", "mgr", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = api.do(http.MethodGet, "/api/requests/reimbursement/9999", "emp", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(http.MethodGet, "/api/requests/loan/1", "emp", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(http.MethodGet, "/api/requests/advance/abc", "emp", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = api.submitReimbursement("emp", "-3")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error, "amount")

	w, _ = api.do(http.MethodPost, "/api/employees", "emp", map[string]string{"employee_id": "x1", "role": "Common"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPI_ForwardAndQueues(t *testing.T) {
	api := newTestAPI(t, 0)
	api.seedDirectory()

	_, resp := api.submitReimbursement("emp", "75")
	req := decodeRequest(t, resp)
	base := fmt.Sprintf("/api/requests/reimbursement/%d", req.ID)

	w, resp := api.do(http.MethodPost, base+"/forward", "mgr", map[string]string{"to": "ceo", "comment": "on leave"})
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	assert.Equal(t, "ceo", *decodeRequest(t, resp).CurrentApproverID)

	w, resp = api.do(http.MethodGet, "/api/dashboard/queue", "ceo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var queue []entity.Request
	require.NoError(t, json.Unmarshal(resp.Data, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, req.ID, queue[0].ID)

	w, resp = api.do(http.MethodGet, "/api/dashboard", "ceo", nil)
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	assert.Contains(t, string(resp.Data), `"queue"`)
}

func TestAPI_FinanceReport(t *testing.T) {
	api := newTestAPI(t, 0)
	api.seedDirectory()
	api.submitReimbursement("emp", "10")

	w, _ := api.do(http.MethodGet, "/api/reports/finance?from=2000-01-01&to=2100-01-01", "emp", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = api.do(http.MethodGet, "/api/reports/finance?from=2000-01-01", "fv", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(http.MethodGet, "/api/reports/finance?from=2000-01-01&to=2100-01-01", "fv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "finance_20000101_21000101.xlsx")
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestAPI_RateLimitsMutationsPerActor(t *testing.T) {
	api := newTestAPI(t, 1)

	body := map[string]string{"employee_id": "hr", "role": "HR"}
	w, _ := api.do(http.MethodPost, "/api/employees", "hr", body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w, _ = api.do(http.MethodPost, "/api/employees", "hr", map[string]string{"employee_id": "e2", "role": "Common"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reads and other actors are not throttled
	w, _ = api.do(http.MethodGet, "/api/employees/hr", "hr", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = api.do(http.MethodPost, "/api/employees", "someone", map[string]string{"employee_id": "e3", "role": "Common"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{entity.NewValidationError("amount", "bad"), http.StatusBadRequest},
		{&entity.UnauthorizedError{ActorID: "x"}, http.StatusForbidden},
		{fmt.Errorf("wrap: %w", entity.ErrNotFound), http.StatusNotFound},
		{&entity.InvalidStateError{Status: entity.StatusPaid, Operation: "approve"}, http.StatusConflict},
		{entity.ErrConcurrentModification, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}
