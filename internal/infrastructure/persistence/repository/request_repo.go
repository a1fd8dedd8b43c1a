package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
	"github.com/garyjia/xpensure/internal/infrastructure/persistence/sqldb"
)

const requestColumns = `id, kind, employee_id, amount, description, attachments,
	project_id, project_name, expense_date, request_date, project_date,
	status, current_approver_id, final_approver_id, rejection_reason,
	approved_by_finance, approved_by_hr, approved_by_ceo, current_step,
	payment_date, payments, version, created_at, updated_at`

// RequestRepository implements port.RequestRepository over the polymorphic requests table
type RequestRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqldb.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{db: db, logger: logger}
}

// Create inserts a request at version 1
func (r *RequestRepository) Create(ctx context.Context, req *entity.Request) error {
	attachments, payments, err := encodeDocuments(req)
	if err != nil {
		return err
	}

	query := r.db.Rebind(`
		INSERT INTO requests (
			kind, employee_id, amount, description, attachments,
			project_id, project_name, expense_date, request_date, project_date,
			status, current_approver_id, final_approver_id, rejection_reason,
			approved_by_finance, approved_by_hr, approved_by_ceo, current_step,
			payment_date, payments, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	req.Version = 1
	projectID, projectName := projectColumns(req.Project)
	err = r.db.Executor(ctx).QueryRowContext(ctx, query,
		string(req.Kind),
		req.EmployeeID,
		req.Amount,
		req.Description,
		attachments,
		projectID,
		projectName,
		nullTime(req.ExpenseDate),
		nullTime(req.RequestDate),
		nullTime(req.ProjectDate),
		string(req.Status),
		nullStringPtr(req.CurrentApproverID),
		nullStringPtr(req.FinalApproverID),
		nullStringPtr(req.RejectionReason),
		req.ApprovedByFinance,
		req.ApprovedByHR,
		req.ApprovedByCEO,
		req.CurrentStep,
		nullTime(req.PaymentDate),
		payments,
		req.Version,
		req.CreatedAt,
		req.UpdatedAt,
	).Scan(&req.ID)
	if err != nil {
		r.logger.Error("Failed to create request", zap.String("kind", string(req.Kind)), zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// GetByID returns the request, or nil when no request of kind has id
func (r *RequestRepository) GetByID(ctx context.Context, kind entity.RequestKind, id int64) (*entity.Request, error) {
	return r.get(ctx, kind, id, "")
}

// GetForUpdate reads the request inside the current transaction and locks its row
func (r *RequestRepository) GetForUpdate(ctx context.Context, kind entity.RequestKind, id int64) (*entity.Request, error) {
	if sqldb.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetForUpdate requires a transaction")
	}
	return r.get(ctx, kind, id, r.db.ForUpdate())
}

func (r *RequestRepository) get(ctx context.Context, kind entity.RequestKind, id int64, suffix string) (*entity.Request, error) {
	query := r.db.Rebind(`SELECT ` + requestColumns + ` FROM requests WHERE id = ? AND kind = ?` + suffix)

	req, err := r.scanRequest(r.db.Executor(ctx).QueryRowContext(ctx, query, id, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request", zap.String("kind", string(kind)), zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// Update writes the request when its version is unchanged since it was read
func (r *RequestRepository) Update(ctx context.Context, req *entity.Request) error {
	attachments, payments, err := encodeDocuments(req)
	if err != nil {
		return err
	}

	query := r.db.Rebind(`
		UPDATE requests SET
			amount = ?, description = ?, attachments = ?,
			project_id = ?, project_name = ?, expense_date = ?, request_date = ?, project_date = ?,
			status = ?, current_approver_id = ?, final_approver_id = ?, rejection_reason = ?,
			approved_by_finance = ?, approved_by_hr = ?, approved_by_ceo = ?, current_step = ?,
			payment_date = ?, payments = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND kind = ? AND version = ?
	`)

	projectID, projectName := projectColumns(req.Project)
	res, err := r.db.Executor(ctx).ExecContext(ctx, query,
		req.Amount,
		req.Description,
		attachments,
		projectID,
		projectName,
		nullTime(req.ExpenseDate),
		nullTime(req.RequestDate),
		nullTime(req.ProjectDate),
		string(req.Status),
		nullStringPtr(req.CurrentApproverID),
		nullStringPtr(req.FinalApproverID),
		nullStringPtr(req.RejectionReason),
		req.ApprovedByFinance,
		req.ApprovedByHR,
		req.ApprovedByCEO,
		req.CurrentStep,
		nullTime(req.PaymentDate),
		payments,
		req.UpdatedAt,
		req.ID,
		string(req.Kind),
		req.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update request", zap.Int64("id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to update request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		r.logger.Warn("Stale request version",
			zap.String("kind", string(req.Kind)),
			zap.Int64("id", req.ID),
			zap.Int64("version", req.Version))
		return fmt.Errorf("request %s/%d at version %d: %w", req.Kind, req.ID, req.Version, entity.ErrConcurrentModification)
	}

	req.Version++
	return nil
}

// List returns requests matching filter, oldest first
func (r *RequestRepository) List(ctx context.Context, filter port.RequestFilter) ([]*entity.Request, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.CurrentApproverID != "" {
		where = append(where, "current_approver_id = ?")
		args = append(args, filter.CurrentApproverID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, inClause("status", len(filter.Statuses)))
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	if filter.CreatedFrom != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		where = append(where, "created_at < ?")
		args = append(args, *filter.CreatedTo)
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*entity.Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *RequestRepository) scanRequest(row scanner) (*entity.Request, error) {
	var req entity.Request
	var kind, status, attachments, payments string
	var projectID, projectName sql.NullString
	var currentApprover, finalApprover, reason sql.NullString
	var expenseDate, requestDate, projectDate, paymentDate sql.NullTime

	err := row.Scan(
		&req.ID,
		&kind,
		&req.EmployeeID,
		&req.Amount,
		&req.Description,
		&attachments,
		&projectID,
		&projectName,
		&expenseDate,
		&requestDate,
		&projectDate,
		&status,
		&currentApprover,
		&finalApprover,
		&reason,
		&req.ApprovedByFinance,
		&req.ApprovedByHR,
		&req.ApprovedByCEO,
		&req.CurrentStep,
		&paymentDate,
		&payments,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Kind = entity.RequestKind(kind)
	if req.Status, err = entity.ParseStatus(status); err != nil {
		return nil, err
	}
	req.CurrentApproverID = stringPtr(currentApprover)
	req.FinalApproverID = stringPtr(finalApprover)
	req.RejectionReason = stringPtr(reason)
	req.ExpenseDate = timePtr(expenseDate)
	req.RequestDate = timePtr(requestDate)
	req.ProjectDate = timePtr(projectDate)
	req.PaymentDate = timePtr(paymentDate)
	if projectID.Valid || projectName.Valid {
		req.Project = &entity.ProjectRef{ID: projectID.String, Name: projectName.String}
	}

	if err := json.Unmarshal([]byte(attachments), &req.Attachments); err != nil {
		r.logger.Warn("Unreadable attachments column", zap.Int64("id", req.ID), zap.Error(err))
		req.Attachments = nil
	}
	if req.Attachments == nil {
		req.Attachments = []entity.AttachmentRef{}
	}

	req.Payments, req.LegacyPayments = decodePayments(payments)
	return &req, nil
}

// decodePayments returns canonical records, or the raw value when it was written
// in an older shape.
func decodePayments(raw string) ([]entity.PaymentRecord, json.RawMessage) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return []entity.PaymentRecord{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()
	var records []entity.PaymentRecord
	if err := dec.Decode(&records); err != nil {
		return []entity.PaymentRecord{}, json.RawMessage(trimmed)
	}
	if records == nil {
		records = []entity.PaymentRecord{}
	}
	return records, nil
}

func encodeDocuments(req *entity.Request) (string, string, error) {
	attachments := req.Attachments
	if attachments == nil {
		attachments = []entity.AttachmentRef{}
	}
	a, err := json.Marshal(attachments)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode attachments: %w", err)
	}

	if len(req.Payments) == 0 && len(req.LegacyPayments) > 0 {
		return string(a), string(req.LegacyPayments), nil
	}
	payments := req.Payments
	if payments == nil {
		payments = []entity.PaymentRecord{}
	}
	p, err := json.Marshal(payments)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode payments: %w", err)
	}
	return string(a), string(p), nil
}

func projectColumns(p *entity.ProjectRef) (sql.NullString, sql.NullString) {
	if p == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullString(p.ID), nullString(p.Name)
}

var _ port.RequestRepository = (*RequestRepository)(nil)
