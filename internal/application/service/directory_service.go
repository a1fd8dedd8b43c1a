package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
	"github.com/garyjia/xpensure/pkg/utils"
)

// EmployeeInput describes a directory record created by HR
type EmployeeInput struct {
	EmployeeID string `json:"employee_id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Role       string `json:"role"`
	ReportsTo  string `json:"reports_to"`
	Active     *bool  `json:"active"`
}

// EmployeeUpdate changes selected fields of a directory record. Nil fields are kept.
// An empty ReportsTo clears the manager.
type EmployeeUpdate struct {
	FullName   *string `json:"full_name"`
	Email      *string `json:"email"`
	Department *string `json:"department"`
	Role       *string `json:"role"`
	ReportsTo  *string `json:"reports_to"`
	Active     *bool   `json:"active"`
}

// DirectoryService maintains the employee directory
type DirectoryService interface {
	CreateEmployee(ctx context.Context, actorID string, input EmployeeInput) (*entity.Employee, error)
	UpdateEmployee(ctx context.Context, actorID, employeeID string, update EmployeeUpdate) (*entity.Employee, error)
	GetEmployee(ctx context.Context, employeeID string) (*entity.Employee, error)
	ListEmployees(ctx context.Context, filter port.EmployeeFilter) ([]*entity.Employee, error)
}

type directoryServiceImpl struct {
	employeeRepo port.EmployeeRepository
	clock        port.Clock
	logger       Logger
}

// NewDirectoryService creates a new DirectoryService
func NewDirectoryService(employeeRepo port.EmployeeRepository, clock port.Clock, logger Logger) DirectoryService {
	return &directoryServiceImpl{
		employeeRepo: employeeRepo,
		clock:        clock,
		logger:       logger,
	}
}

// CreateEmployee onboards a record. Only HR may do so, except that the first HR
// record of an empty directory may be created by anyone.
func (s *directoryServiceImpl) CreateEmployee(ctx context.Context, actorID string, input EmployeeInput) (*entity.Employee, error) {
	input.EmployeeID = strings.TrimSpace(input.EmployeeID)
	if err := utils.ValidateEmployeeID(input.EmployeeID); err != nil {
		return nil, entity.NewValidationError("employee_id", err.Error())
	}
	role, err := entity.ParseRole(input.Role)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, actorID, role == entity.RoleHR); err != nil {
		return nil, err
	}

	existing, err := s.employeeRepo.GetByEmployeeID(ctx, input.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	if existing != nil {
		return nil, entity.NewValidationError("employee_id", fmt.Sprintf("%s already exists", input.EmployeeID))
	}

	now := s.clock.Now()
	emp := &entity.Employee{
		EmployeeID: input.EmployeeID,
		FullName:   utils.SanitizeString(input.FullName),
		Email:      strings.TrimSpace(input.Email),
		Department: utils.SanitizeString(input.Department),
		Role:       role,
		ReportsTo:  strings.TrimSpace(input.ReportsTo),
		Active:     input.Active == nil || *input.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.validate(ctx, emp); err != nil {
		return nil, err
	}

	if err := s.employeeRepo.Create(ctx, emp); err != nil {
		s.logger.Error("Failed to create employee", "error", err, "employee_id", emp.EmployeeID)
		return nil, fmt.Errorf("create employee: %w", err)
	}

	s.logger.Info("Employee onboarded",
		"employee_id", emp.EmployeeID,
		"role", emp.Role,
		"reports_to", emp.ReportsTo,
		"actor_id", actorID)
	return emp, nil
}

// UpdateEmployee applies update. In-flight requests keep their current approver.
func (s *directoryServiceImpl) UpdateEmployee(ctx context.Context, actorID, employeeID string, update EmployeeUpdate) (*entity.Employee, error) {
	if err := s.authorize(ctx, actorID, false); err != nil {
		return nil, err
	}

	emp, err := s.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	if update.FullName != nil {
		emp.FullName = utils.SanitizeString(*update.FullName)
	}
	if update.Email != nil {
		emp.Email = strings.TrimSpace(*update.Email)
	}
	if update.Department != nil {
		emp.Department = utils.SanitizeString(*update.Department)
	}
	if update.Role != nil {
		role, err := entity.ParseRole(*update.Role)
		if err != nil {
			return nil, err
		}
		emp.Role = role
	}
	if update.ReportsTo != nil {
		emp.ReportsTo = strings.TrimSpace(*update.ReportsTo)
	}
	if update.Active != nil {
		emp.Active = *update.Active
	}
	if err := s.validate(ctx, emp); err != nil {
		return nil, err
	}
	emp.UpdatedAt = s.clock.Now()

	if err := s.employeeRepo.Update(ctx, emp); err != nil {
		s.logger.Error("Failed to update employee", "error", err, "employee_id", emp.EmployeeID)
		return nil, fmt.Errorf("update employee: %w", err)
	}

	s.logger.Info("Employee updated",
		"employee_id", emp.EmployeeID,
		"role", emp.Role,
		"reports_to", emp.ReportsTo,
		"active", emp.Active,
		"actor_id", actorID)
	return emp, nil
}

// GetEmployee returns a record or ErrNotFound
func (s *directoryServiceImpl) GetEmployee(ctx context.Context, employeeID string) (*entity.Employee, error) {
	emp, err := s.employeeRepo.GetByEmployeeID(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	if emp == nil {
		return nil, fmt.Errorf("employee %s: %w", employeeID, entity.ErrNotFound)
	}
	return emp, nil
}

func (s *directoryServiceImpl) ListEmployees(ctx context.Context, filter port.EmployeeFilter) ([]*entity.Employee, error) {
	employees, err := s.employeeRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return employees, nil
}

func (s *directoryServiceImpl) authorize(ctx context.Context, actorID string, creatingHR bool) error {
	if creatingHR {
		hr, err := s.employeeRepo.FirstWithRole(ctx, entity.RoleHR)
		if err != nil {
			return fmt.Errorf("find %s: %w", entity.RoleHR, err)
		}
		if hr == nil {
			s.logger.Info("Bootstrapping directory with first HR record", "actor_id", actorID)
			return nil
		}
	}

	actor, err := resolveActor(ctx, s.employeeRepo, actorID)
	if err != nil {
		return err
	}
	if actor.Role != entity.RoleHR {
		return &entity.UnauthorizedError{ActorID: actorID, Reason: "only HR may maintain the directory"}
	}
	return nil
}

// validate checks contact details and that reports-to names an existing employee.
// Reporting cycles are accepted here; the router breaks them.
func (s *directoryServiceImpl) validate(ctx context.Context, emp *entity.Employee) error {
	if emp.Email != "" {
		if err := utils.ValidateEmail(emp.Email); err != nil {
			return entity.NewValidationError("email", err.Error())
		}
	}
	if emp.ReportsTo == "" {
		return nil
	}
	if emp.ReportsTo == emp.EmployeeID {
		return entity.NewValidationError("reports_to", "an employee cannot report to themselves")
	}
	manager, err := s.employeeRepo.GetByEmployeeID(ctx, emp.ReportsTo)
	if err != nil {
		return fmt.Errorf("get manager: %w", err)
	}
	if manager == nil {
		return entity.NewValidationError("reports_to", fmt.Sprintf("%s does not exist", emp.ReportsTo))
	}
	return nil
}
