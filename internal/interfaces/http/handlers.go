package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/application/service"
	"github.com/garyjia/xpensure/internal/domain/entity"
)

const dateLayout = "2006-01-02"

// Handlers contains all HTTP request handlers
type Handlers struct {
	requests       service.RequestService
	directory      service.DirectoryService
	dashboard      service.DashboardService
	health         HealthFunc
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthFunc, maxUploadBytes int64, logger *zap.Logger) *Handlers {
	return &Handlers{
		requests:       services.Requests,
		directory:      services.Directory,
		dashboard:      services.Dashboard,
		health:         health,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

type approveBody struct {
	Comment string `json:"comment"`
}

type rejectBody struct {
	Reason string `json:"reason"`
}

type forwardBody struct {
	To      string `json:"to"`
	Comment string `json:"comment"`
}

type payBody struct {
	Payments json.RawMessage `json:"payments"`
}

// errorStatus maps service errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, entity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidState), errors.Is(err, entity.ErrConcurrentModification):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("operation", op), zap.Error(err))
		msg = "internal error"
	}
	_ = c.Error(err)
	c.JSON(status, Response{Success: false, Error: msg})
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// requestRef parses :kind and :id
func (h *Handlers) requestRef(c *gin.Context) (entity.RequestKind, int64, bool) {
	kind, err := entity.ParseRequestKind(c.Param("kind"))
	if err != nil {
		h.fail(c, "parse kind", err)
		return "", 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, "parse id", entity.NewValidationError("id", fmt.Sprintf("invalid request id %q", c.Param("id"))))
		return "", 0, false
	}
	return kind, id, true
}

// bindOptionalJSON accepts an empty body as the zero value
func (h *Handlers) bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, "bind body", entity.NewValidationError("body", "malformed JSON body"))
		return false
	}
	return true
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.health != nil {
		healthy, details := h.health()
		resp.Components = details
		if !healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// CreateEmployee handles POST /api/employees
func (h *Handlers) CreateEmployee(c *gin.Context) {
	var input service.EmployeeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, "create employee", entity.NewValidationError("body", "malformed JSON body"))
		return
	}
	emp, err := h.directory.CreateEmployee(c.Request.Context(), actorID(c), input)
	if err != nil {
		h.fail(c, "create employee", err)
		return
	}
	ok(c, http.StatusCreated, emp)
}

// ListEmployees handles GET /api/employees?role=&active=
func (h *Handlers) ListEmployees(c *gin.Context) {
	filter := port.EmployeeFilter{ActiveOnly: c.Query("active") == "true"}
	if raw := c.Query("role"); raw != "" {
		role, err := entity.ParseRole(raw)
		if err != nil {
			h.fail(c, "list employees", entity.NewValidationError("role", err.Error()))
			return
		}
		filter.Role = role
	}
	employees, err := h.directory.ListEmployees(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "list employees", err)
		return
	}
	ok(c, http.StatusOK, employees)
}

// GetEmployee handles GET /api/employees/:employee_id
func (h *Handlers) GetEmployee(c *gin.Context) {
	emp, err := h.directory.GetEmployee(c.Request.Context(), c.Param("employee_id"))
	if err != nil {
		h.fail(c, "get employee", err)
		return
	}
	ok(c, http.StatusOK, emp)
}

// UpdateEmployee handles PATCH /api/employees/:employee_id
func (h *Handlers) UpdateEmployee(c *gin.Context) {
	var update service.EmployeeUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.fail(c, "update employee", entity.NewValidationError("body", "malformed JSON body"))
		return
	}
	emp, err := h.directory.UpdateEmployee(c.Request.Context(), actorID(c), c.Param("employee_id"), update)
	if err != nil {
		h.fail(c, "update employee", err)
		return
	}
	ok(c, http.StatusOK, emp)
}

// SubmitRequest handles POST /api/requests/:kind as multipart form data
func (h *Handlers) SubmitRequest(c *gin.Context) {
	kind, err := entity.ParseRequestKind(c.Param("kind"))
	if err != nil {
		h.fail(c, "submit", err)
		return
	}
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	input := service.SubmitInput{
		Kind:        kind,
		EmployeeID:  actorID(c),
		Description: c.PostForm("description"),
		ProjectID:   c.PostForm("project_id"),
		ProjectName: c.PostForm("project_name"),
	}

	if raw := strings.TrimSpace(c.PostForm("amount")); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			h.fail(c, "submit", entity.NewValidationError("amount", fmt.Sprintf("invalid amount %q", raw)))
			return
		}
		input.Amount = amount
	}

	for field, dst := range map[string]**time.Time{
		"date":         &input.ExpenseDate,
		"request_date": &input.RequestDate,
		"project_date": &input.ProjectDate,
	} {
		t, err := parseDate(c.PostForm(field))
		if err != nil {
			h.fail(c, "submit", entity.NewValidationError(field, err.Error()))
			return
		}
		*dst = t
	}

	files, err := formFiles(c)
	if err != nil {
		h.fail(c, "submit", entity.NewValidationError("attachments", err.Error()))
		return
	}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.fail(c, "submit", fmt.Errorf("open upload %s: %w", fh.Filename, err))
			return
		}
		defer f.Close()
		input.Attachments = append(input.Attachments, port.Upload{Filename: fh.Filename, Content: f})
	}

	req, err := h.requests.SubmitRequest(c.Request.Context(), input)
	if err != nil {
		h.fail(c, "submit", err)
		return
	}
	ok(c, http.StatusCreated, req)
}

// GetRequest handles GET /api/requests/:kind/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	kind, id, valid := h.requestRef(c)
	if !valid {
		return
	}
	req, err := h.requests.GetRequest(c.Request.Context(), kind, id)
	if err != nil {
		h.fail(c, "get request", err)
		return
	}
	ok(c, http.StatusOK, req)
}

// GetHistory handles GET /api/requests/:kind/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	kind, id, valid := h.requestRef(c)
	if !valid {
		return
	}
	entries, err := h.requests.History(c.Request.Context(), kind, id)
	if err != nil {
		h.fail(c, "history", err)
		return
	}
	ok(c, http.StatusOK, entries)
}

// GetPaymentAttachments handles GET /api/requests/:kind/:id/payment-attachments
func (h *Handlers) GetPaymentAttachments(c *gin.Context) {
	kind, id, valid := h.requestRef(c)
	if !valid {
		return
	}
	refs, err := h.requests.PaymentAttachments(c.Request.Context(), kind, id)
	if err != nil {
		h.fail(c, "payment attachments", err)
		return
	}
	if refs == nil {
		refs = []string{}
	}
	ok(c, http.StatusOK, refs)
}

// ApproveRequest handles POST /api/requests/:kind/:id/approve
func (h *Handlers) ApproveRequest(c *gin.Context) {
	kind, id, valid := h.requestRef(c)
	if !valid {
		return
	}
	var body approveBody
	if !h.bindOptionalJSON(c, &body) {
		return
	}
	req, err := h.requests.ApproveRequest(c.Request.Context(), kind, id, actorID(c), body.Comment)
	if err != nil {
		h.fail(c, "approve", err)
		return
	}
	ok(c, http.StatusOK, req)
}

// RejectRequest handles POST /api/requests/:kind/:id/reject
func (h *Handlers) RejectRequest(c *gin.Context) {
	kind, id, valid := h.requestRef(c)
	if !valid {
		return
	}
	var body rejectBody
	if !h.bindOptionalJSON(c, &body) {
		return
	}
	req, err := h.requests.RejectRequest(c.Request.Context(), kind, id, actorID(c), body.Reason)
	if err != nil {
		h.fail(c, "reject", err)
		return
	}
	ok(c, http.StatusOK, req)
}

// ForwardRequest handles POST /api/requests/:kind/:id/forward
func (h *Handlers) ForwardRequest(c *gin.Context) {
	kind, id, valid := h.requestRef(c)
	if !valid {
		return
	}
	var body forwardBody
	if !h.bindOptionalJSON(c, &body) {
		return
	}
	req, err := h.requests.ForwardRequest(c.Request.Context(), kind, id, actorID(c), body.To, body.Comment)
	if err != nil {
		h.fail(c, "forward", err)
		return
	}
	ok(c, http.StatusOK, req)
}

// MarkPaid handles POST /api/requests/:kind/:id/pay
func (h *Handlers) MarkPaid(c *gin.Context) {
	kind, id, valid := h.requestRef(c)
	if !valid {
		return
	}
	var body payBody
	if !h.bindOptionalJSON(c, &body) {
		return
	}
	req, err := h.requests.MarkPaid(c.Request.Context(), kind, id, actorID(c), body.Payments)
	if err != nil {
		h.fail(c, "mark paid", err)
		return
	}
	ok(c, http.StatusOK, req)
}

// RoleDashboard handles GET /api/dashboard
func (h *Handlers) RoleDashboard(c *gin.Context) {
	dash, err := h.dashboard.RoleDashboard(c.Request.Context(), actorID(c))
	if err != nil {
		h.fail(c, "role dashboard", err)
		return
	}
	ok(c, http.StatusOK, dash)
}

// EmployeeSummary handles GET /api/dashboard/employee/:employee_id
func (h *Handlers) EmployeeSummary(c *gin.Context) {
	summary, err := h.dashboard.EmployeeSummary(c.Request.Context(), c.Param("employee_id"))
	if err != nil {
		h.fail(c, "employee summary", err)
		return
	}
	ok(c, http.StatusOK, summary)
}

// ApproverQueue handles GET /api/dashboard/queue
func (h *Handlers) ApproverQueue(c *gin.Context) {
	queue, err := h.dashboard.ApproverQueue(c.Request.Context(), actorID(c))
	if err != nil {
		h.fail(c, "approver queue", err)
		return
	}
	ok(c, http.StatusOK, queue)
}

// PaymentQueue handles GET /api/dashboard/payments
func (h *Handlers) PaymentQueue(c *gin.Context) {
	queue, err := h.dashboard.PaymentQueue(c.Request.Context())
	if err != nil {
		h.fail(c, "payment queue", err)
		return
	}
	ok(c, http.StatusOK, queue)
}

// Performance handles GET /api/dashboard/performance
func (h *Handlers) Performance(c *gin.Context) {
	perf, err := h.dashboard.Performance(c.Request.Context(), actorID(c))
	if err != nil {
		h.fail(c, "performance", err)
		return
	}
	ok(c, http.StatusOK, perf)
}

// FinanceReport handles GET /api/reports/finance?from=YYYY-MM-DD&to=YYYY-MM-DD.
// The range is half-open: to is excluded.
func (h *Handlers) FinanceReport(c *gin.Context) {
	from, err := parseDate(c.Query("from"))
	if err != nil || from == nil {
		h.fail(c, "finance report", entity.NewValidationError("from", "from date is required as YYYY-MM-DD"))
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil || to == nil {
		h.fail(c, "finance report", entity.NewValidationError("to", "to date is required as YYYY-MM-DD"))
		return
	}

	report, err := h.dashboard.FinanceReport(c.Request.Context(), actorID(c), *from, *to)
	if err != nil {
		h.fail(c, "finance report", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	c.Data(http.StatusOK, report.ContentType, report.Data)
}

// NormalizePayments handles POST /api/admin/payments/normalize
func (h *Handlers) NormalizePayments(c *gin.Context) {
	result, err := h.requests.NormalizeLegacyPayments(c.Request.Context(), actorID(c))
	if err != nil {
		h.fail(c, "normalize payments", err)
		return
	}
	h.logger.Info("Legacy payments normalized",
		zap.String("actor_id", actorID(c)),
		zap.Int("scanned", result.Scanned),
		zap.Int("converted", result.Converted),
		zap.Int("failed", result.Failed))
	ok(c, http.StatusOK, result)
}

// parseDate accepts YYYY-MM-DD or RFC3339; empty input yields nil
func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	t = t.UTC()
	return &t, nil
}

// formFiles collects uploads sent as attachments or attachments[]
func formFiles(c *gin.Context) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("read multipart form: %w", err)
	}
	var files []*multipart.FileHeader
	files = append(files, form.File["attachments"]...)
	files = append(files, form.File["attachments[]"]...)
	return files, nil
}
