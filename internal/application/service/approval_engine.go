package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
	"github.com/garyjia/xpensure/internal/domain/event"
	"github.com/garyjia/xpensure/internal/domain/routing"
	"github.com/garyjia/xpensure/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Transition is the result of one engine operation
type Transition struct {
	Request        *entity.Request
	Entries        []*entity.ApprovalHistory
	Events         []event.Type
	ActorID        string
	NextApproverID string
}

// ApprovalEngine applies transitions to requests that the caller has already loaded
// and locked. Every operation writes the request and its ledger entries through the
// repositories, so callers run it inside one transaction.
type ApprovalEngine struct {
	router    *routing.Router
	directory port.EmployeeRepository
	requests  port.RequestRepository
	history   port.HistoryRepository
	clock     port.Clock
	logger    Logger
}

// NewApprovalEngine creates an engine
func NewApprovalEngine(
	directory port.EmployeeRepository,
	requests port.RequestRepository,
	history port.HistoryRepository,
	clock port.Clock,
	logger Logger,
) *ApprovalEngine {
	return &ApprovalEngine{
		router:    routing.NewRouter(directory),
		directory: directory,
		requests:  requests,
		history:   history,
		clock:     clock,
		logger:    logger,
	}
}

// Submit creates req on behalf of submitter. The request waits for the submitter's
// manager, or is approved by the system when the submitter has none.
func (e *ApprovalEngine) Submit(ctx context.Context, req *entity.Request, submitter *entity.Employee) (*Transition, error) {
	now := e.clock.Now()
	req.EmployeeID = submitter.EmployeeID
	req.CreatedAt = now
	req.UpdatedAt = now
	req.CurrentStep = routing.StepSubmitted

	if _, err := workflow.Next(ctx, workflow.StateDraft, workflow.TriggerSubmit); err != nil {
		return nil, err
	}

	first, err := e.initialApprover(ctx, submitter)
	if err != nil {
		return nil, err
	}

	if first != nil {
		req.Status = entity.StatusPending
		req.CurrentApproverID = entity.StringPtr(first.EmployeeID)
		req.CurrentStep = routing.AdvanceStep(req.CurrentStep, req.Kind, entity.StatusPending, first.Role)
	} else {
		req.Status = entity.StatusApproved
		req.FinalApproverID = entity.StringPtr(entity.SystemActorID)
		req.CurrentStep = routing.AdvanceStep(req.CurrentStep, req.Kind, entity.StatusApproved, "")
	}

	if err := e.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	entries := []*entity.ApprovalHistory{{
		RequestKind: req.Kind,
		RequestID:   req.ID,
		ActorID:     submitter.EmployeeID,
		ActorName:   submitter.DisplayName(),
		Action:      entity.ActionSubmitted,
		Comment:     submittedComment(req.Kind),
		NewStatus:   entity.StatusPending,
		Timestamp:   now,
	}}
	if first == nil {
		entries = append(entries, &entity.ApprovalHistory{
			RequestKind:    req.Kind,
			RequestID:      req.ID,
			ActorID:        entity.SystemActorID,
			ActorName:      "System",
			Action:         entity.ActionApproved,
			Comment:        "Auto-approved: submitter has no manager",
			PreviousStatus: entity.StatusPending,
			NewStatus:      entity.StatusApproved,
			Timestamp:      now,
		})
	}
	if err := e.appendAll(ctx, entries); err != nil {
		return nil, err
	}

	t := &Transition{Request: req, Entries: entries, Events: []event.Type{event.TypeRequestSubmitted}, ActorID: submitter.EmployeeID}
	if first != nil {
		t.NextApproverID = first.EmployeeID
	} else {
		t.Events = append(t.Events, event.TypeRequestApproved)
	}
	return t, nil
}

// initialApprover resolves the submitter's reports-to. A reports-to that names nobody
// sends the request to Finance Verification rather than approving it unseen.
func (e *ApprovalEngine) initialApprover(ctx context.Context, submitter *entity.Employee) (*entity.Employee, error) {
	id := routing.InitialApprover(submitter)
	if id == "" {
		return nil, nil
	}

	manager, err := e.directory.GetByEmployeeID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve manager %s: %w", id, err)
	}
	if manager != nil {
		return manager, nil
	}

	e.logger.Error("Submitter reports to an unknown employee, routing to finance verification",
		"employee_id", submitter.EmployeeID,
		"reports_to", id)
	fv, err := e.directory.FirstWithRole(ctx, entity.RoleFinanceVerification)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entity.RoleFinanceVerification, err)
	}
	return fv, nil
}

// Approve records actor's approval and hands the request to the next approver, or
// closes the chain when there is none.
func (e *ApprovalEngine) Approve(ctx context.Context, req *entity.Request, actor *entity.Employee, comment string) (*Transition, error) {
	if err := e.checkActionable(req, actor, "approve"); err != nil {
		return nil, err
	}
	if !actor.Role.CanApprove(req.Kind) {
		return nil, &entity.UnauthorizedError{ActorID: actor.EmployeeID, Reason: fmt.Sprintf("role %s cannot approve %s requests", actor.Role, req.Kind)}
	}

	visited, err := e.approvers(ctx, req)
	if err != nil {
		return nil, err
	}
	visited[actor.EmployeeID] = true

	decision, err := e.router.NextApprover(ctx, routing.Route{Actor: actor, Kind: req.Kind, Visited: visited})
	if err != nil {
		return nil, fmt.Errorf("route request: %w", err)
	}
	if decision.DeadEnd {
		e.logger.Error("Approval routing reached a dead end, approving terminally",
			"error", entity.ErrRoutingDeadEnd,
			"kind", req.Kind,
			"request_id", req.ID,
			"actor_id", actor.EmployeeID,
			"missing_role", decision.MissingRole,
			"rules_version", decision.Version)
	}

	var next *entity.Employee
	if !decision.Terminal() {
		next, err = e.directory.GetByEmployeeID(ctx, decision.NextID)
		if err != nil {
			return nil, fmt.Errorf("resolve next approver %s: %w", decision.NextID, err)
		}
		if next == nil {
			e.logger.Error("Next approver not found, approving terminally",
				"kind", req.Kind,
				"request_id", req.ID,
				"next_approver_id", decision.NextID)
		}
	}

	// The CEO's approval always releases the request to the payment desk when one exists.
	if next == nil && actor.Role == entity.RoleCEO {
		next, err = e.directory.FirstWithRole(ctx, entity.RoleFinancePayment)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", entity.RoleFinancePayment, err)
		}
	}

	prev := req.Status
	state, err := workflow.Next(workflow.WithNextHop(ctx, next != nil), workflow.State(prev), workflow.TriggerApprove)
	if err != nil {
		return nil, &entity.InvalidStateError{Status: prev, Operation: "approve"}
	}

	now := e.clock.Now()
	req.Status = entity.RequestStatus(state)
	req.SetFlag(actor.Role.ApprovalFlag())
	req.RejectionReason = nil
	req.UpdatedAt = now

	t := &Transition{Request: req, ActorID: actor.EmployeeID}
	if next != nil {
		req.CurrentApproverID = entity.StringPtr(next.EmployeeID)
		req.CurrentStep = routing.AdvanceStep(req.CurrentStep, req.Kind, req.Status, next.Role)
		if actor.Role == entity.RoleCEO && next.Role == entity.RoleFinancePayment {
			req.FinalApproverID = entity.StringPtr(actor.EmployeeID)
		}
		t.Events = []event.Type{event.TypeRequestAdvanced}
		t.NextApproverID = next.EmployeeID
	} else {
		req.CurrentApproverID = nil
		req.FinalApproverID = entity.StringPtr(actor.EmployeeID)
		req.CurrentStep = routing.AdvanceStep(req.CurrentStep, req.Kind, req.Status, "")
		t.Events = []event.Type{event.TypeRequestApproved}
	}

	if err := e.requests.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	entry := e.entry(req, actor, entity.ActionApproved, withComment("Approved by "+actor.Role.DisplayName(), comment), prev, now)
	if err := e.appendAll(ctx, []*entity.ApprovalHistory{entry}); err != nil {
		return nil, err
	}
	t.Entries = []*entity.ApprovalHistory{entry}
	return t, nil
}

// Reject closes the request with reason
func (e *ApprovalEngine) Reject(ctx context.Context, req *entity.Request, actor *entity.Employee, reason string) (*Transition, error) {
	if err := e.checkActionable(req, actor, "reject"); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, entity.NewValidationError("reason", "rejection reason is required")
	}

	prev := req.Status
	state, err := workflow.Next(ctx, workflow.State(prev), workflow.TriggerReject)
	if err != nil {
		return nil, &entity.InvalidStateError{Status: prev, Operation: "reject"}
	}

	now := e.clock.Now()
	req.Status = entity.RequestStatus(state)
	req.RejectionReason = entity.StringPtr(reason)
	req.CurrentApproverID = nil
	req.FinalApproverID = entity.StringPtr(actor.EmployeeID)
	req.UpdatedAt = now

	if err := e.requests.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	entry := e.entry(req, actor, entity.ActionRejected, reason, prev, now)
	if err := e.appendAll(ctx, []*entity.ApprovalHistory{entry}); err != nil {
		return nil, err
	}
	return &Transition{Request: req, Entries: []*entity.ApprovalHistory{entry}, Events: []event.Type{event.TypeRequestRejected}, ActorID: actor.EmployeeID}, nil
}

// Forward hands a pending request from its current approver to another employee
// without approving it.
func (e *ApprovalEngine) Forward(ctx context.Context, req *entity.Request, actor, target *entity.Employee, comment string) (*Transition, error) {
	if err := e.checkActionable(req, actor, "forward"); err != nil {
		return nil, err
	}
	switch {
	case target == nil:
		return nil, entity.NewValidationError("to", "target employee does not exist")
	case !target.Active:
		return nil, entity.NewValidationError("to", fmt.Sprintf("%s is not active", target.EmployeeID))
	case target.EmployeeID == actor.EmployeeID:
		return nil, entity.NewValidationError("to", "cannot forward to yourself")
	case target.EmployeeID == req.EmployeeID:
		return nil, entity.NewValidationError("to", "cannot forward to the submitter")
	case !target.Role.CanApprove(req.Kind):
		return nil, entity.NewValidationError("to", fmt.Sprintf("%s cannot approve %s requests", target.EmployeeID, req.Kind))
	}

	prev := req.Status
	state, err := workflow.Next(ctx, workflow.State(prev), workflow.TriggerForward)
	if err != nil {
		return nil, &entity.InvalidStateError{Status: prev, Operation: "forward"}
	}

	now := e.clock.Now()
	req.Status = entity.RequestStatus(state)
	req.CurrentApproverID = entity.StringPtr(target.EmployeeID)
	req.CurrentStep = routing.AdvanceStep(req.CurrentStep, req.Kind, req.Status, target.Role)
	req.UpdatedAt = now

	if err := e.requests.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	text := withComment(fmt.Sprintf("Forwarded to %s", target.DisplayName()), comment)
	entry := e.entry(req, actor, entity.ActionForwarded, text, prev, now)
	if err := e.appendAll(ctx, []*entity.ApprovalHistory{entry}); err != nil {
		return nil, err
	}
	return &Transition{
		Request:        req,
		Entries:        []*entity.ApprovalHistory{entry},
		Events:         []event.Type{event.TypeRequestForwarded},
		ActorID:        actor.EmployeeID,
		NextApproverID: target.EmployeeID,
	}, nil
}

// MarkPaid records the disbursement of an approved request
func (e *ApprovalEngine) MarkPaid(ctx context.Context, req *entity.Request, actor *entity.Employee, payments []entity.PaymentRecord) (*Transition, error) {
	if !actor.Role.CanMarkPaid() {
		return nil, &entity.UnauthorizedError{ActorID: actor.EmployeeID, Reason: "only Finance Payment can mark requests as paid"}
	}

	prev := req.Status
	if prev != entity.StatusApproved {
		return nil, &entity.InvalidStateError{Status: prev, Message: "request must be approved before payment"}
	}
	state, err := workflow.Next(ctx, workflow.State(prev), workflow.TriggerPay)
	if err != nil {
		return nil, &entity.InvalidStateError{Status: prev, Operation: "pay"}
	}

	now := e.clock.Now()
	req.Status = entity.RequestStatus(state)
	req.PaymentDate = &now
	req.CurrentApproverID = nil
	req.CurrentStep = routing.AdvanceStep(req.CurrentStep, req.Kind, req.Status, "")
	req.Payments = append(req.Payments, payments...)
	req.UpdatedAt = now

	if err := e.requests.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	entry := e.entry(req, actor, entity.ActionPaid, "Paid by "+actor.Role.DisplayName(), prev, now)
	if err := e.appendAll(ctx, []*entity.ApprovalHistory{entry}); err != nil {
		return nil, err
	}
	return &Transition{Request: req, Entries: []*entity.ApprovalHistory{entry}, Events: []event.Type{event.TypeRequestPaid}, ActorID: actor.EmployeeID}, nil
}

// checkActionable enforces that req is pending and held by actor
func (e *ApprovalEngine) checkActionable(req *entity.Request, actor *entity.Employee, op string) error {
	if req.Status.IsTerminal() {
		return &entity.InvalidStateError{Status: req.Status, Operation: op}
	}
	if !req.IsAssignedTo(actor.EmployeeID) {
		return &entity.UnauthorizedError{ActorID: actor.EmployeeID, Expected: req.CurrentApprover()}
	}
	return nil
}

// approvers returns the employees the manager chain may not hand req to: the submitter
// and everyone who already approved it.
func (e *ApprovalEngine) approvers(ctx context.Context, req *entity.Request) (map[string]bool, error) {
	entries, err := e.history.ListByRequest(ctx, req.Kind, req.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	visited := make(map[string]bool, len(entries)+1)
	visited[req.EmployeeID] = true
	for _, h := range entries {
		if h.Action == entity.ActionApproved {
			visited[h.ActorID] = true
		}
	}
	return visited, nil
}

func (e *ApprovalEngine) entry(req *entity.Request, actor *entity.Employee, action entity.Action, comment string, prev entity.RequestStatus, at time.Time) *entity.ApprovalHistory {
	return &entity.ApprovalHistory{
		RequestKind:    req.Kind,
		RequestID:      req.ID,
		ActorID:        actor.EmployeeID,
		ActorName:      actor.DisplayName(),
		Action:         action,
		Comment:        comment,
		PreviousStatus: prev,
		NewStatus:      req.Status,
		Timestamp:      at,
	}
}

func (e *ApprovalEngine) appendAll(ctx context.Context, entries []*entity.ApprovalHistory) error {
	for _, h := range entries {
		if err := e.history.Append(ctx, h); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
	}
	return nil
}

func withComment(base, comment string) string {
	if c := strings.TrimSpace(comment); c != "" {
		return base + ": " + c
	}
	return base
}

func submittedComment(kind entity.RequestKind) string {
	if kind == entity.KindAdvance {
		return "Advance request submitted"
	}
	return "Reimbursement request submitted"
}
