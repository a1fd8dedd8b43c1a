package port

import (
	"context"
	"time"

	"github.com/garyjia/xpensure/internal/domain/entity"
)

// EmployeeRepository defines persistence operations for the employee directory.
// Lookups return (nil, nil) when no record matches.
type EmployeeRepository interface {
	Create(ctx context.Context, employee *entity.Employee) error
	Update(ctx context.Context, employee *entity.Employee) error
	GetByEmployeeID(ctx context.Context, employeeID string) (*entity.Employee, error)
	// FirstWithRole returns the active holder of role with the lowest id.
	FirstWithRole(ctx context.Context, role entity.Role) (*entity.Employee, error)
	List(ctx context.Context, filter EmployeeFilter) ([]*entity.Employee, error)
}

// EmployeeFilter narrows EmployeeRepository.List
type EmployeeFilter struct {
	Role       entity.Role
	ActiveOnly bool
	Limit      int
	Offset     int
}

// RequestRepository defines persistence operations for reimbursements and advances
type RequestRepository interface {
	Create(ctx context.Context, request *entity.Request) error
	GetByID(ctx context.Context, kind entity.RequestKind, id int64) (*entity.Request, error)
	// GetForUpdate reads the request and locks its row until the surrounding
	// transaction ends. It must be called inside TransactionManager.WithTransaction.
	GetForUpdate(ctx context.Context, kind entity.RequestKind, id int64) (*entity.Request, error)
	// Update writes every mutable column when the stored version still equals
	// request.Version, then increments request.Version. A stale version yields
	// entity.ErrConcurrentModification.
	Update(ctx context.Context, request *entity.Request) error
	List(ctx context.Context, filter RequestFilter) ([]*entity.Request, error)
}

// RequestFilter narrows RequestRepository.List. Zero values do not filter.
type RequestFilter struct {
	Kind              entity.RequestKind
	EmployeeID        string
	CurrentApproverID string
	Statuses          []entity.RequestStatus
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
	Limit             int
	Offset            int
}

// HistoryRepository is the append-only approval ledger
type HistoryRepository interface {
	Append(ctx context.Context, entry *entity.ApprovalHistory) error
	// ListByRequest returns entries ordered by timestamp, then id.
	ListByRequest(ctx context.Context, kind entity.RequestKind, requestID int64) ([]*entity.ApprovalHistory, error)
	ListByActor(ctx context.Context, actorID string) ([]*entity.ApprovalHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
