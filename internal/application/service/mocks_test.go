package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/dispatcher"
	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
	"github.com/garyjia/xpensure/internal/domain/event"
	"github.com/garyjia/xpensure/internal/payment"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// tickingClock advances one minute on every call so ledger timestamps are ordered.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *tickingClock {
	return &tickingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

// Mock repositories

type mockEmployeeRepo struct {
	mu        sync.Mutex
	nextID    int64
	employees map[string]*entity.Employee

	createFunc func(ctx context.Context, employee *entity.Employee) error
	getFunc    func(ctx context.Context, employeeID string) (*entity.Employee, error)
}

func newMockEmployeeRepo(employees ...*entity.Employee) *mockEmployeeRepo {
	m := &mockEmployeeRepo{employees: make(map[string]*entity.Employee)}
	for _, e := range employees {
		_ = m.Create(context.Background(), e)
	}
	return m
}

func (m *mockEmployeeRepo) Create(ctx context.Context, employee *entity.Employee) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, employee)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.employees[employee.EmployeeID]; ok {
		return entity.NewValidationError("employee_id", "duplicate")
	}
	m.nextID++
	employee.ID = m.nextID
	cp := *employee
	m.employees[employee.EmployeeID] = &cp
	return nil
}

func (m *mockEmployeeRepo) Update(ctx context.Context, employee *entity.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.employees[employee.EmployeeID]; !ok {
		return entity.ErrNotFound
	}
	cp := *employee
	m.employees[employee.EmployeeID] = &cp
	return nil
}

func (m *mockEmployeeRepo) GetByEmployeeID(ctx context.Context, employeeID string) (*entity.Employee, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, employeeID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.employees[employeeID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *mockEmployeeRepo) FirstWithRole(ctx context.Context, role entity.Role) (*entity.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first *entity.Employee
	for _, e := range m.employees {
		if e.Role == role && e.Active && (first == nil || e.ID < first.ID) {
			first = e
		}
	}
	if first == nil {
		return nil, nil
	}
	cp := *first
	return &cp, nil
}

func (m *mockEmployeeRepo) List(ctx context.Context, filter port.EmployeeFilter) ([]*entity.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Employee
	for _, e := range m.employees {
		if filter.Role != "" && e.Role != filter.Role {
			continue
		}
		if filter.ActiveOnly && !e.Active {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type requestKey struct {
	kind entity.RequestKind
	id   int64
}

type mockRequestRepo struct {
	mu       sync.Mutex
	nextID   int64
	requests map[requestKey]*entity.Request

	updateFunc func(ctx context.Context, request *entity.Request) error
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{requests: make(map[requestKey]*entity.Request)}
}

func copyRequest(r *entity.Request) *entity.Request {
	cp := *r
	cp.Attachments = append([]entity.AttachmentRef(nil), r.Attachments...)
	cp.Payments = append([]entity.PaymentRecord(nil), r.Payments...)
	return &cp
}

func (m *mockRequestRepo) Create(ctx context.Context, request *entity.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	request.ID = m.nextID
	request.Version = 1
	m.requests[requestKey{request.Kind, request.ID}] = copyRequest(request)
	return nil
}

func (m *mockRequestRepo) GetByID(ctx context.Context, kind entity.RequestKind, id int64) (*entity.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestKey{kind, id}]
	if !ok {
		return nil, nil
	}
	return copyRequest(r), nil
}

func (m *mockRequestRepo) GetForUpdate(ctx context.Context, kind entity.RequestKind, id int64) (*entity.Request, error) {
	return m.GetByID(ctx, kind, id)
}

func (m *mockRequestRepo) Update(ctx context.Context, request *entity.Request) error {
	if m.updateFunc != nil {
		if err := m.updateFunc(ctx, request); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := requestKey{request.Kind, request.ID}
	stored, ok := m.requests[key]
	if !ok || stored.Version != request.Version {
		return entity.ErrConcurrentModification
	}
	request.Version++
	m.requests[key] = copyRequest(request)
	return nil
}

func (m *mockRequestRepo) List(ctx context.Context, filter port.RequestFilter) ([]*entity.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Request
	for _, r := range m.requests {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.EmployeeID != "" && r.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.CurrentApproverID != "" && r.CurrentApprover() != filter.CurrentApproverID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, r.Status) {
			continue
		}
		if filter.CreatedFrom != nil && r.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && !r.CreatedAt.Before(*filter.CreatedTo) {
			continue
		}
		out = append(out, copyRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// put stores r as-is, bypassing Create
func (m *mockRequestRepo) put(r *entity.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextID++
		r.ID = m.nextID
	}
	if r.Version == 0 {
		r.Version = 1
	}
	m.requests[requestKey{r.Kind, r.ID}] = copyRequest(r)
}

func containsStatus(statuses []entity.RequestStatus, s entity.RequestStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries []*entity.ApprovalHistory

	appendFunc func(ctx context.Context, entry *entity.ApprovalHistory) error
}

func (m *mockHistoryRepo) Append(ctx context.Context, entry *entity.ApprovalHistory) error {
	if m.appendFunc != nil {
		if err := m.appendFunc(ctx, entry); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockHistoryRepo) ListByRequest(ctx context.Context, kind entity.RequestKind, requestID int64) ([]*entity.ApprovalHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ApprovalHistory
	for _, e := range m.entries {
		if e.RequestKind == kind && e.RequestID == requestID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockHistoryRepo) ListByActor(ctx context.Context, actorID string) ([]*entity.ApprovalHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ApprovalHistory
	for _, e := range m.entries {
		if e.ActorID == actorID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockHistoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// mockTxManager restores the request and history stores when fn fails.
type mockTxManager struct {
	requests *mockRequestRepo
	history  *mockHistoryRepo
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.requests.mu.Lock()
	savedRequests := make(map[requestKey]*entity.Request, len(m.requests.requests))
	for k, v := range m.requests.requests {
		savedRequests[k] = copyRequest(v)
	}
	savedNextID := m.requests.nextID
	m.requests.mu.Unlock()

	m.history.mu.Lock()
	savedEntries := append([]*entity.ApprovalHistory(nil), m.history.entries...)
	m.history.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.requests.mu.Lock()
		m.requests.requests = savedRequests
		m.requests.nextID = savedNextID
		m.requests.mu.Unlock()

		m.history.mu.Lock()
		m.history.entries = savedEntries
		m.history.mu.Unlock()
		return err
	}
	return nil
}

type mockFileStore struct {
	mu      sync.Mutex
	stored  []string
	deleted []string

	storeFunc func(ctx context.Context, kind entity.RequestKind, upload port.Upload) (entity.AttachmentRef, error)
}

func (m *mockFileStore) Store(ctx context.Context, kind entity.RequestKind, upload port.Upload) (entity.AttachmentRef, error) {
	if m.storeFunc != nil {
		return m.storeFunc(ctx, kind, upload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	path := fmt.Sprintf("%s/%s_%d%s", kind.AttachmentFolder(), kind, len(m.stored)+1, extOf(upload.Filename))
	m.stored = append(m.stored, path)
	return entity.AttachmentRef{Path: path, URL: "/media/" + path, OriginalName: upload.Filename}, nil
}

func (m *mockFileStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (m *mockFileStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, path)
	return nil
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

type mockExporter struct {
	rows []port.ReportRow
	err  error
}

func (m *mockExporter) ExportRequests(ctx context.Context, title string, rows []port.ReportRow) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.rows = rows
	return []byte(title), nil
}

func (m *mockExporter) ContentType() string   { return "application/test" }
func (m *mockExporter) FileExtension() string { return ".test" }

type recordingSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingSender) Send(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

// Fixtures

func employee(id string, role entity.Role, reportsTo string) *entity.Employee {
	return &entity.Employee{
		EmployeeID: id,
		FullName:   strings.ToUpper(id[:1]) + id[1:],
		Email:      id + "@example.com",
		Department: "Operations",
		Role:       role,
		ReportsTo:  reportsTo,
		Active:     true,
	}
}

// orgChart is a complete chain: emp -> mgr, and one holder of every fixed role.
func orgChart() []*entity.Employee {
	return []*entity.Employee{
		employee("emp", entity.RoleCommon, "mgr"),
		employee("mgr", entity.RoleCommon, ""),
		employee("fv", entity.RoleFinanceVerification, ""),
		employee("hr", entity.RoleHR, ""),
		employee("ceo", entity.RoleCEO, ""),
		employee("fp", entity.RoleFinancePayment, ""),
	}
}

type testEnv struct {
	employees  *mockEmployeeRepo
	requests   *mockRequestRepo
	history    *mockHistoryRepo
	files      *mockFileStore
	tx         *mockTxManager
	dispatcher dispatcher.Dispatcher
	events     *[]*event.Event
	clock      *tickingClock
	service    RequestService
}

func newTestEnv(employees ...*entity.Employee) *testEnv {
	env := &testEnv{
		employees: newMockEmployeeRepo(employees...),
		requests:  newMockRequestRepo(),
		history:   &mockHistoryRepo{},
		files:     &mockFileStore{},
		clock:     newClock(),
	}
	env.tx = &mockTxManager{requests: env.requests, history: env.history}

	var events []*event.Event
	env.events = &events
	env.dispatcher = dispatcher.NewDispatcher()
	for _, typ := range []event.Type{
		event.TypeRequestSubmitted,
		event.TypeRequestForwarded,
		event.TypeRequestAdvanced,
		event.TypeRequestApproved,
		event.TypeRequestRejected,
		event.TypeRequestPaid,
	} {
		env.dispatcher.Subscribe(typ, "recorder", func(ctx context.Context, evt *event.Event) error {
			events = append(events, evt)
			return nil
		})
	}

	env.service = NewRequestService(
		env.employees,
		env.requests,
		env.history,
		env.files,
		env.tx,
		env.dispatcher,
		payment.NewExtractor(zap.NewNop()),
		env.clock,
		nopLogger{},
	)
	return env
}

func (env *testEnv) eventTypes() []event.Type {
	var out []event.Type
	for _, e := range *env.events {
		out = append(out, e.Type)
	}
	return out
}

func advanceInput(employeeID, amount string) SubmitInput {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return SubmitInput{
		Kind:        entity.KindAdvance,
		EmployeeID:  employeeID,
		Amount:      decimal.RequireFromString(amount),
		Description: "Site visit travel",
		RequestDate: &date,
		ProjectID:   "P-7",
		ProjectName: "Harbour expansion",
	}
}

func reimbursementInput(employeeID, amount string) SubmitInput {
	date := time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)
	return SubmitInput{
		Kind:        entity.KindReimbursement,
		EmployeeID:  employeeID,
		Amount:      decimal.RequireFromString(amount),
		Description: "Client dinner",
		ExpenseDate: &date,
		Attachments: []port.Upload{{Filename: "receipt.pdf", Content: strings.NewReader("%PDF")}},
	}
}

var errBoom = errors.New("boom")
