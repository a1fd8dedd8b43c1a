package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/xpensure/internal/application/dispatcher"
	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
	"github.com/garyjia/xpensure/internal/domain/event"
	"github.com/garyjia/xpensure/internal/payment"
	"github.com/garyjia/xpensure/pkg/utils"
)

// normalizeBatchSize is the page size used when scanning requests for legacy payments
const normalizeBatchSize = 100

// SubmitInput carries a new reimbursement or advance
type SubmitInput struct {
	Kind        entity.RequestKind
	EmployeeID  string
	Amount      decimal.Decimal
	Description string
	ExpenseDate *time.Time
	RequestDate *time.Time
	ProjectDate *time.Time
	ProjectID   string
	ProjectName string
	Attachments []port.Upload
}

// NormalizeResult summarises a legacy payments migration run
type NormalizeResult struct {
	Scanned   int `json:"scanned"`
	Converted int `json:"converted"`
	Failed    int `json:"failed"`
}

// RequestService drives requests through the approval chain
type RequestService interface {
	SubmitRequest(ctx context.Context, input SubmitInput) (*entity.Request, error)
	ApproveRequest(ctx context.Context, kind entity.RequestKind, id int64, actorID, comment string) (*entity.Request, error)
	RejectRequest(ctx context.Context, kind entity.RequestKind, id int64, actorID, reason string) (*entity.Request, error)
	ForwardRequest(ctx context.Context, kind entity.RequestKind, id int64, actorID, toID, comment string) (*entity.Request, error)
	MarkPaid(ctx context.Context, kind entity.RequestKind, id int64, actorID string, payments json.RawMessage) (*entity.Request, error)
	GetRequest(ctx context.Context, kind entity.RequestKind, id int64) (*entity.Request, error)
	History(ctx context.Context, kind entity.RequestKind, id int64) ([]*entity.ApprovalHistory, error)
	PaymentAttachments(ctx context.Context, kind entity.RequestKind, id int64) ([]string, error)
	NormalizeLegacyPayments(ctx context.Context, actorID string) (*NormalizeResult, error)
}

type requestServiceImpl struct {
	employeeRepo port.EmployeeRepository
	requestRepo  port.RequestRepository
	historyRepo  port.HistoryRepository
	fileStore    port.FileStore
	txManager    port.TransactionManager
	dispatcher   dispatcher.Dispatcher
	extractor    *payment.Extractor
	engine       *ApprovalEngine
	clock        port.Clock
	logger       Logger
}

// NewRequestService creates a new RequestService
func NewRequestService(
	employeeRepo port.EmployeeRepository,
	requestRepo port.RequestRepository,
	historyRepo port.HistoryRepository,
	fileStore port.FileStore,
	txManager port.TransactionManager,
	eventDispatcher dispatcher.Dispatcher,
	extractor *payment.Extractor,
	clock port.Clock,
	logger Logger,
) RequestService {
	return &requestServiceImpl{
		employeeRepo: employeeRepo,
		requestRepo:  requestRepo,
		historyRepo:  historyRepo,
		fileStore:    fileStore,
		txManager:    txManager,
		dispatcher:   eventDispatcher,
		extractor:    extractor,
		engine:       NewApprovalEngine(employeeRepo, requestRepo, historyRepo, clock, logger),
		clock:        clock,
		logger:       logger,
	}
}

// SubmitRequest validates input, stores its attachments and opens the request
func (s *requestServiceImpl) SubmitRequest(ctx context.Context, input SubmitInput) (*entity.Request, error) {
	if err := validateSubmit(&input); err != nil {
		return nil, err
	}

	submitter, err := s.resolveActor(ctx, input.EmployeeID)
	if err != nil {
		return nil, err
	}

	req := &entity.Request{
		Kind:        input.Kind,
		Amount:      input.Amount,
		Description: input.Description,
		ExpenseDate: input.ExpenseDate,
		RequestDate: input.RequestDate,
		ProjectDate: input.ProjectDate,
		Attachments: []entity.AttachmentRef{},
		Payments:    []entity.PaymentRecord{},
	}
	if input.ProjectID != "" || input.ProjectName != "" {
		req.Project = &entity.ProjectRef{ID: input.ProjectID, Name: input.ProjectName}
	}

	// Files are written before the transaction and removed again if it fails.
	for _, upload := range input.Attachments {
		ref, err := s.fileStore.Store(ctx, input.Kind, upload)
		if err != nil {
			s.discardAttachments(ctx, req.Attachments)
			s.logger.Error("Failed to store attachment", "error", err, "employee_id", input.EmployeeID)
			return nil, fmt.Errorf("store attachment %s: %w", upload.Filename, err)
		}
		req.Attachments = append(req.Attachments, ref)
	}

	var t *Transition
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.engine.Submit(ctx, req, submitter)
		return err
	})
	if err != nil {
		s.discardAttachments(ctx, req.Attachments)
		s.logger.Error("Failed to submit request", "error", err, "kind", input.Kind, "employee_id", input.EmployeeID)
		return nil, fmt.Errorf("submit request: %w", err)
	}

	s.logger.Info("Request submitted",
		"kind", req.Kind,
		"request_id", req.ID,
		"employee_id", req.EmployeeID,
		"status", req.Status,
		"current_approver_id", req.CurrentApprover())
	s.publish(ctx, t)
	return req, nil
}

func validateSubmit(input *SubmitInput) error {
	if !input.Kind.IsValid() {
		return entity.NewValidationError("kind", fmt.Sprintf("unknown request kind %q", input.Kind))
	}
	if input.EmployeeID == "" {
		return entity.NewValidationError("employee_id", "employee id is required")
	}
	if err := utils.ValidateAmount(input.Amount); err != nil {
		return entity.NewValidationError("amount", err.Error())
	}

	input.Description = utils.SanitizeString(input.Description)
	input.ProjectID = utils.SanitizeString(input.ProjectID)
	input.ProjectName = utils.SanitizeString(input.ProjectName)
	if input.Description == "" {
		return entity.NewValidationError("description", "description is required")
	}

	switch input.Kind {
	case entity.KindReimbursement:
		if input.ExpenseDate == nil {
			return entity.NewValidationError("date", "expense date is required")
		}
		if len(input.Attachments) == 0 {
			return entity.NewValidationError("attachments", "at least one receipt is required")
		}
		if input.ProjectName != "" {
			return entity.NewValidationError("project_name", "only advances carry a project name")
		}
	case entity.KindAdvance:
		if input.RequestDate == nil {
			return entity.NewValidationError("request_date", "request date is required")
		}
	}
	return nil
}

func (s *requestServiceImpl) discardAttachments(ctx context.Context, refs []entity.AttachmentRef) {
	for _, ref := range refs {
		if err := s.fileStore.Delete(ctx, ref.Path); err != nil {
			s.logger.Error("Failed to remove orphaned attachment", "error", err, "path", ref.Path)
		}
	}
}

// ApproveRequest approves on behalf of the current approver
func (s *requestServiceImpl) ApproveRequest(ctx context.Context, kind entity.RequestKind, id int64, actorID, comment string) (*entity.Request, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, kind, id, "approve", func(ctx context.Context, req *entity.Request) (*Transition, error) {
		return s.engine.Approve(ctx, req, actor, comment)
	})
}

// RejectRequest rejects on behalf of the current approver
func (s *requestServiceImpl) RejectRequest(ctx context.Context, kind entity.RequestKind, id int64, actorID, reason string) (*entity.Request, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, kind, id, "reject", func(ctx context.Context, req *entity.Request) (*Transition, error) {
		return s.engine.Reject(ctx, req, actor, reason)
	})
}

// ForwardRequest hands the request to toID
func (s *requestServiceImpl) ForwardRequest(ctx context.Context, kind entity.RequestKind, id int64, actorID, toID, comment string) (*entity.Request, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if toID == "" {
		return nil, entity.NewValidationError("to", "target employee is required")
	}
	target, err := s.employeeRepo.GetByEmployeeID(ctx, toID)
	if err != nil {
		return nil, fmt.Errorf("get employee %s: %w", toID, err)
	}
	return s.transition(ctx, kind, id, "forward", func(ctx context.Context, req *entity.Request) (*Transition, error) {
		return s.engine.Forward(ctx, req, actor, target, comment)
	})
}

// MarkPaid records payment. payments may be empty or any known payments shape.
func (s *requestServiceImpl) MarkPaid(ctx context.Context, kind entity.RequestKind, id int64, actorID string, payments json.RawMessage) (*entity.Request, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var records []entity.PaymentRecord
	if len(payments) > 0 && string(payments) != "null" {
		if records, err = s.extractor.Normalize(payments); err != nil {
			return nil, err
		}
	}

	return s.transition(ctx, kind, id, "mark_paid", func(ctx context.Context, req *entity.Request) (*Transition, error) {
		return s.engine.MarkPaid(ctx, req, actor, records)
	})
}

// transition locks the request and applies fn in one transaction, then publishes its events.
func (s *requestServiceImpl) transition(
	ctx context.Context,
	kind entity.RequestKind,
	id int64,
	op string,
	fn func(ctx context.Context, req *entity.Request) (*Transition, error),
) (*entity.Request, error) {
	if !kind.IsValid() {
		return nil, entity.NewValidationError("kind", fmt.Sprintf("unknown request kind %q", kind))
	}

	var t *Transition
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		req, err := s.requestRepo.GetForUpdate(ctx, kind, id)
		if err != nil {
			return fmt.Errorf("get request: %w", err)
		}
		if req == nil {
			return fmt.Errorf("%s %d: %w", kind, id, entity.ErrNotFound)
		}
		t, err = fn(ctx, req)
		return err
	})
	if err != nil {
		if entity.IsClientError(err) || entity.IsNotFound(err) {
			s.logger.Info("Request transition refused", "operation", op, "kind", kind, "request_id", id, "reason", err.Error())
		} else {
			s.logger.Error("Request transition failed", "error", err, "operation", op, "kind", kind, "request_id", id)
		}
		return nil, err
	}

	s.logger.Info("Request transition committed",
		"operation", op,
		"kind", kind,
		"request_id", id,
		"actor_id", t.ActorID,
		"status", t.Request.Status,
		"current_approver_id", t.Request.CurrentApprover())
	s.publish(ctx, t)
	return t.Request, nil
}

// publish dispatches the transition's events. Handler failures are logged only: the
// transition has already committed.
func (s *requestServiceImpl) publish(ctx context.Context, t *Transition) {
	if s.dispatcher == nil || t == nil {
		return
	}
	req := t.Request
	for _, typ := range t.Events {
		evt := event.NewEvent(typ, req.Kind.String(), req.ID, t.ActorID, s.clock.Now()).
			WithPayload(event.KeyEmployeeID, req.EmployeeID).
			WithPayload(event.KeyStatus, req.Status.String()).
			WithPayload(event.KeyAmount, req.Amount.StringFixed(2))
		if t.NextApproverID != "" {
			evt = evt.WithPayload(event.KeyNextApproverID, t.NextApproverID)
		}
		if req.RejectionReason != nil {
			evt = evt.WithPayload(event.KeyRejectionReason, *req.RejectionReason)
		}
		if err := s.dispatcher.Dispatch(ctx, evt); err != nil {
			s.logger.Error("Event handlers failed", "error", err, "event_type", typ, "request_id", req.ID)
		}
	}
}

// resolveActor loads an active employee. Unknown or inactive employees may not act.
func (s *requestServiceImpl) resolveActor(ctx context.Context, employeeID string) (*entity.Employee, error) {
	return resolveActor(ctx, s.employeeRepo, employeeID)
}

func resolveActor(ctx context.Context, repo port.EmployeeRepository, employeeID string) (*entity.Employee, error) {
	if employeeID == "" {
		return nil, entity.NewValidationError("employee_id", "actor is required")
	}
	actor, err := repo.GetByEmployeeID(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("get employee %s: %w", employeeID, err)
	}
	if actor == nil {
		return nil, &entity.UnauthorizedError{ActorID: employeeID, Reason: "unknown employee"}
	}
	if !actor.Active {
		return nil, &entity.UnauthorizedError{ActorID: employeeID, Reason: "employee is inactive"}
	}
	return actor, nil
}

// GetRequest returns a request or ErrNotFound
func (s *requestServiceImpl) GetRequest(ctx context.Context, kind entity.RequestKind, id int64) (*entity.Request, error) {
	if !kind.IsValid() {
		return nil, entity.NewValidationError("kind", fmt.Sprintf("unknown request kind %q", kind))
	}
	req, err := s.requestRepo.GetByID(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%s %d: %w", kind, id, entity.ErrNotFound)
	}
	return req, nil
}

// History returns the request's ledger in order
func (s *requestServiceImpl) History(ctx context.Context, kind entity.RequestKind, id int64) ([]*entity.ApprovalHistory, error) {
	if _, err := s.GetRequest(ctx, kind, id); err != nil {
		return nil, err
	}
	entries, err := s.historyRepo.ListByRequest(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// PaymentAttachments lists every attachment recorded with the request's payments
func (s *requestServiceImpl) PaymentAttachments(ctx context.Context, kind entity.RequestKind, id int64) ([]string, error) {
	req, err := s.GetRequest(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	refs := payment.FromRecords(req.Payments)
	if len(req.LegacyPayments) > 0 {
		refs = payment.MergeRefs(refs, s.extractor.Attachments(req.LegacyPayments))
	}
	return refs, nil
}

// NormalizeLegacyPayments rewrites every stored legacy payments value as canonical
// records. Requests whose payload cannot be normalised are left untouched and counted.
func (s *requestServiceImpl) NormalizeLegacyPayments(ctx context.Context, actorID string) (*NormalizeResult, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != entity.RoleFinancePayment && actor.Role != entity.RoleFinanceVerification {
		return nil, &entity.UnauthorizedError{ActorID: actorID, Reason: "only finance may normalise payments"}
	}

	result := &NormalizeResult{}
	for _, kind := range []entity.RequestKind{entity.KindReimbursement, entity.KindAdvance} {
		for offset := 0; ; offset += normalizeBatchSize {
			page, err := s.requestRepo.List(ctx, port.RequestFilter{Kind: kind, Limit: normalizeBatchSize, Offset: offset})
			if err != nil {
				return nil, fmt.Errorf("list %s requests: %w", kind, err)
			}
			for _, req := range page {
				result.Scanned++
				if len(req.LegacyPayments) == 0 {
					continue
				}
				if err := s.normalizeOne(ctx, req.Kind, req.ID); err != nil {
					result.Failed++
					s.logger.Error("Failed to normalise payments", "error", err, "kind", req.Kind, "request_id", req.ID)
					continue
				}
				result.Converted++
			}
			if len(page) < normalizeBatchSize {
				break
			}
		}
	}

	s.logger.Info("Legacy payments normalised",
		"actor_id", actorID,
		"scanned", result.Scanned,
		"converted", result.Converted,
		"failed", result.Failed)
	return result, nil
}

func (s *requestServiceImpl) normalizeOne(ctx context.Context, kind entity.RequestKind, id int64) error {
	return s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		req, err := s.requestRepo.GetForUpdate(ctx, kind, id)
		if err != nil {
			return fmt.Errorf("get request: %w", err)
		}
		if req == nil || len(req.LegacyPayments) == 0 {
			return nil
		}
		records, err := s.extractor.Normalize(req.LegacyPayments)
		if err != nil {
			return err
		}
		req.Payments = append(req.Payments, records...)
		req.LegacyPayments = nil
		req.UpdatedAt = s.clock.Now()
		return s.requestRepo.Update(ctx, req)
	})
}
