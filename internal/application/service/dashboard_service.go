package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
)

const dashboardPageSize = 500

// Totals is a request count with its summed amount
type Totals struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

func (t *Totals) add(amount decimal.Decimal) {
	t.Count++
	t.Amount = t.Amount.Add(amount)
}

// EmployeeSummary aggregates one employee's requests
type EmployeeSummary struct {
	EmployeeID string                          `json:"employee_id"`
	ByStatus   map[entity.RequestStatus]Totals `json:"by_status"`
	ByKind     map[entity.RequestKind]Totals   `json:"by_kind"`
	TotalPaid  decimal.Decimal                 `json:"total_paid"`
}

// Performance describes how an approver handles requests
type Performance struct {
	ActorID                string  `json:"actor_id"`
	Approved               int     `json:"approved"`
	Rejected               int     `json:"rejected"`
	Forwarded              int     `json:"forwarded"`
	AverageProcessingHours float64 `json:"average_processing_hours"`
	SuccessRate            float64 `json:"success_rate"`
}

// RoleDashboard is everything an employee sees on their landing page
type RoleDashboard struct {
	Employee     *entity.Employee  `json:"employee"`
	Summary      *EmployeeSummary  `json:"summary"`
	Queue        []*entity.Request `json:"queue"`
	Performance  *Performance      `json:"performance,omitempty"`
	PaymentQueue []*entity.Request `json:"payment_queue,omitempty"`
}

// Report is a rendered file
type Report struct {
	Filename    string
	ContentType string
	Data        []byte
}

// DashboardService answers read-only questions about requests and approvers
type DashboardService interface {
	EmployeeSummary(ctx context.Context, employeeID string) (*EmployeeSummary, error)
	ApproverQueue(ctx context.Context, actorID string) ([]*entity.Request, error)
	PaymentQueue(ctx context.Context) ([]*entity.Request, error)
	Performance(ctx context.Context, actorID string) (*Performance, error)
	RoleDashboard(ctx context.Context, actorID string) (*RoleDashboard, error)
	Timeline(ctx context.Context, kind entity.RequestKind, id int64) ([]*entity.ApprovalHistory, error)
	FinanceReport(ctx context.Context, actorID string, from, to time.Time) (*Report, error)
}

type dashboardServiceImpl struct {
	employeeRepo port.EmployeeRepository
	requestRepo  port.RequestRepository
	historyRepo  port.HistoryRepository
	exporter     port.ReportExporter
	logger       Logger
}

// NewDashboardService creates a new DashboardService
func NewDashboardService(
	employeeRepo port.EmployeeRepository,
	requestRepo port.RequestRepository,
	historyRepo port.HistoryRepository,
	exporter port.ReportExporter,
	logger Logger,
) DashboardService {
	return &dashboardServiceImpl{
		employeeRepo: employeeRepo,
		requestRepo:  requestRepo,
		historyRepo:  historyRepo,
		exporter:     exporter,
		logger:       logger,
	}
}

func (s *dashboardServiceImpl) EmployeeSummary(ctx context.Context, employeeID string) (*EmployeeSummary, error) {
	requests, err := s.listAll(ctx, port.RequestFilter{EmployeeID: employeeID})
	if err != nil {
		return nil, err
	}

	summary := &EmployeeSummary{
		EmployeeID: employeeID,
		ByStatus:   make(map[entity.RequestStatus]Totals),
		ByKind:     make(map[entity.RequestKind]Totals),
		TotalPaid:  decimal.Zero,
	}
	for _, r := range requests {
		st := summary.ByStatus[r.Status]
		st.add(r.Amount)
		summary.ByStatus[r.Status] = st

		kt := summary.ByKind[r.Kind]
		kt.add(r.Amount)
		summary.ByKind[r.Kind] = kt

		if r.Status == entity.StatusPaid {
			summary.TotalPaid = summary.TotalPaid.Add(r.Amount)
		}
	}
	return summary, nil
}

// ApproverQueue lists pending requests held by actorID, oldest first
func (s *dashboardServiceImpl) ApproverQueue(ctx context.Context, actorID string) ([]*entity.Request, error) {
	queue, err := s.listAll(ctx, port.RequestFilter{
		CurrentApproverID: actorID,
		Statuses:          []entity.RequestStatus{entity.StatusPending},
	})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(queue)
	return queue, nil
}

// PaymentQueue lists approved requests awaiting disbursement, oldest first
func (s *dashboardServiceImpl) PaymentQueue(ctx context.Context) ([]*entity.Request, error) {
	queue, err := s.listAll(ctx, port.RequestFilter{Statuses: []entity.RequestStatus{entity.StatusApproved}})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(queue)
	return queue, nil
}

// Performance measures processing time from submission to each approval by actorID
func (s *dashboardServiceImpl) Performance(ctx context.Context, actorID string) (*Performance, error) {
	entries, err := s.historyRepo.ListByActor(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	type requestKey struct {
		kind entity.RequestKind
		id   int64
	}
	created := make(map[requestKey]time.Time)

	perf := &Performance{ActorID: actorID}
	var total time.Duration
	var timed int
	for _, h := range entries {
		switch h.Action {
		case entity.ActionRejected:
			perf.Rejected++
		case entity.ActionForwarded:
			perf.Forwarded++
		case entity.ActionApproved:
			perf.Approved++
			key := requestKey{h.RequestKind, h.RequestID}
			at, ok := created[key]
			if !ok {
				req, err := s.requestRepo.GetByID(ctx, h.RequestKind, h.RequestID)
				if err != nil {
					return nil, fmt.Errorf("get request: %w", err)
				}
				if req == nil {
					continue
				}
				at = req.CreatedAt
				created[key] = at
			}
			total += h.Timestamp.Sub(at)
			timed++
		}
	}

	// Approvals of requests that no longer exist count towards the success rate only.
	if timed > 0 {
		perf.AverageProcessingHours = total.Hours() / float64(timed)
	}
	perf.SuccessRate = 100
	if decided := perf.Approved + perf.Rejected; decided > 0 {
		perf.SuccessRate = float64(perf.Approved) / float64(decided) * 100
	}
	return perf, nil
}

// RoleDashboard gathers the caller's summary, queue and, for approvers, performance.
func (s *dashboardServiceImpl) RoleDashboard(ctx context.Context, actorID string) (*RoleDashboard, error) {
	actor, err := resolveActor(ctx, s.employeeRepo, actorID)
	if err != nil {
		return nil, err
	}

	dash := &RoleDashboard{Employee: actor}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := s.EmployeeSummary(gctx, actorID)
		dash.Summary = summary
		return err
	})
	g.Go(func() error {
		queue, err := s.ApproverQueue(gctx, actorID)
		dash.Queue = queue
		return err
	})
	if actor.Role != entity.RoleCommon {
		g.Go(func() error {
			perf, err := s.Performance(gctx, actorID)
			dash.Performance = perf
			return err
		})
	}
	if actor.Role.CanMarkPaid() {
		g.Go(func() error {
			queue, err := s.PaymentQueue(gctx)
			dash.PaymentQueue = queue
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to build dashboard", "error", err, "actor_id", actorID)
		return nil, fmt.Errorf("build dashboard: %w", err)
	}
	return dash, nil
}

// Timeline returns the request's ledger in order
func (s *dashboardServiceImpl) Timeline(ctx context.Context, kind entity.RequestKind, id int64) ([]*entity.ApprovalHistory, error) {
	req, err := s.requestRepo.GetByID(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%s %d: %w", kind, id, entity.ErrNotFound)
	}
	entries, err := s.historyRepo.ListByRequest(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// FinanceReport renders requests created in [from, to) for finance staff and the CEO.
func (s *dashboardServiceImpl) FinanceReport(ctx context.Context, actorID string, from, to time.Time) (*Report, error) {
	actor, err := resolveActor(ctx, s.employeeRepo, actorID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case entity.RoleFinanceVerification, entity.RoleFinancePayment, entity.RoleFinance, entity.RoleCEO:
	default:
		return nil, &entity.UnauthorizedError{ActorID: actorID, Reason: "finance reports are restricted to finance and the CEO"}
	}
	if !to.After(from) {
		return nil, entity.NewValidationError("to", "report range is empty")
	}

	requests, err := s.listAll(ctx, port.RequestFilter{CreatedFrom: &from, CreatedTo: &to})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(requests)

	names := make(map[string]*entity.Employee)
	lookup := func(id string) (*entity.Employee, error) {
		if id == "" || id == entity.SystemActorID {
			return nil, nil
		}
		if e, ok := names[id]; ok {
			return e, nil
		}
		e, err := s.employeeRepo.GetByEmployeeID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get employee %s: %w", id, err)
		}
		names[id] = e
		return e, nil
	}

	rows := make([]port.ReportRow, 0, len(requests))
	for _, r := range requests {
		row := port.ReportRow{Request: r, EmployeeName: r.EmployeeID}
		emp, err := lookup(r.EmployeeID)
		if err != nil {
			return nil, err
		}
		if emp != nil {
			row.EmployeeName = emp.DisplayName()
			row.Department = emp.Department
		}
		if r.FinalApproverID != nil {
			row.FinalApprover = *r.FinalApproverID
			approver, err := lookup(*r.FinalApproverID)
			if err != nil {
				return nil, err
			}
			if approver != nil {
				row.FinalApprover = approver.DisplayName()
			}
		}
		rows = append(rows, row)
	}

	title := fmt.Sprintf("Requests %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	data, err := s.exporter.ExportRequests(ctx, title, rows)
	if err != nil {
		s.logger.Error("Failed to export finance report", "error", err, "rows", len(rows))
		return nil, fmt.Errorf("export report: %w", err)
	}

	s.logger.Info("Finance report generated", "actor_id", actorID, "rows", len(rows))
	return &Report{
		Filename:    fmt.Sprintf("finance_%s_%s%s", from.Format("20060102"), to.Format("20060102"), s.exporter.FileExtension()),
		ContentType: s.exporter.ContentType(),
		Data:        data,
	}, nil
}

func (s *dashboardServiceImpl) listAll(ctx context.Context, filter port.RequestFilter) ([]*entity.Request, error) {
	var out []*entity.Request
	filter.Limit = dashboardPageSize
	for filter.Offset = 0; ; filter.Offset += dashboardPageSize {
		page, err := s.requestRepo.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list requests: %w", err)
		}
		out = append(out, page...)
		if len(page) < dashboardPageSize {
			return out, nil
		}
	}
}

func sortOldestFirst(requests []*entity.Request) {
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}
