package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
	"github.com/garyjia/xpensure/internal/infrastructure/persistence/sqldb"
)

const employeeColumns = `id, employee_id, full_name, email, department, role, reports_to, active, created_at, updated_at`

// EmployeeRepository implements port.EmployeeRepository
type EmployeeRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewEmployeeRepository creates a new employee repository
func NewEmployeeRepository(db *sqldb.DB, logger *zap.Logger) port.EmployeeRepository {
	return &EmployeeRepository{db: db, logger: logger}
}

// Create inserts a directory record
func (r *EmployeeRepository) Create(ctx context.Context, e *entity.Employee) error {
	query := r.db.Rebind(`
		INSERT INTO employees (
			employee_id, full_name, email, department, role, reports_to, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		e.EmployeeID,
		e.FullName,
		e.Email,
		e.Department,
		string(e.Role),
		nullString(e.ReportsTo),
		e.Active,
		e.CreatedAt,
		e.UpdatedAt,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.NewValidationError("employee_id", fmt.Sprintf("%s already exists", e.EmployeeID))
		}
		r.logger.Error("Failed to create employee", zap.String("employee_id", e.EmployeeID), zap.Error(err))
		return fmt.Errorf("failed to create employee: %w", err)
	}
	return nil
}

// Update writes the mutable directory fields
func (r *EmployeeRepository) Update(ctx context.Context, e *entity.Employee) error {
	query := r.db.Rebind(`
		UPDATE employees
		SET full_name = ?, email = ?, department = ?, role = ?, reports_to = ?, active = ?, updated_at = ?
		WHERE employee_id = ?
	`)

	res, err := r.db.Executor(ctx).ExecContext(ctx, query,
		e.FullName,
		e.Email,
		e.Department,
		string(e.Role),
		nullString(e.ReportsTo),
		e.Active,
		e.UpdatedAt,
		e.EmployeeID,
	)
	if err != nil {
		r.logger.Error("Failed to update employee", zap.String("employee_id", e.EmployeeID), zap.Error(err))
		return fmt.Errorf("failed to update employee: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("employee %s: %w", e.EmployeeID, entity.ErrNotFound)
	}
	return nil
}

// GetByEmployeeID returns the record with the business key, or nil
func (r *EmployeeRepository) GetByEmployeeID(ctx context.Context, employeeID string) (*entity.Employee, error) {
	query := r.db.Rebind(`SELECT ` + employeeColumns + ` FROM employees WHERE employee_id = ?`)

	e, err := scanEmployee(r.db.Executor(ctx).QueryRowContext(ctx, query, employeeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get employee", zap.String("employee_id", employeeID), zap.Error(err))
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

// FirstWithRole returns the active holder of role with the lowest id, or nil
func (r *EmployeeRepository) FirstWithRole(ctx context.Context, role entity.Role) (*entity.Employee, error) {
	query := r.db.Rebind(`
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE role = ? AND active = ?
		ORDER BY id ASC
		LIMIT 1
	`)

	e, err := scanEmployee(r.db.Executor(ctx).QueryRowContext(ctx, query, string(role), true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find employee by role", zap.String("role", string(role)), zap.Error(err))
		return nil, fmt.Errorf("failed to find employee with role %s: %w", role, err)
	}
	return e, nil
}

// List returns directory records ordered by id
func (r *EmployeeRepository) List(ctx context.Context, filter port.EmployeeFilter) ([]*entity.Employee, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Role != "" {
		where = append(where, "role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.ActiveOnly {
		where = append(where, "active = ?")
		args = append(args, true)
	}

	query := `SELECT ` + employeeColumns + ` FROM employees`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		r.logger.Error("Failed to list employees", zap.Error(err))
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []*entity.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(row scanner) (*entity.Employee, error) {
	var (
		e         entity.Employee
		role      string
		reportsTo sql.NullString
	)
	err := row.Scan(
		&e.ID,
		&e.EmployeeID,
		&e.FullName,
		&e.Email,
		&e.Department,
		&role,
		&reportsTo,
		&e.Active,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Role = entity.Role(role)
	e.ReportsTo = reportsTo.String
	return &e, nil
}

var _ port.EmployeeRepository = (*EmployeeRepository)(nil)
