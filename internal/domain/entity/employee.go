package entity

import (
	"fmt"
	"strings"
	"time"
)

// Role is an employee's position in the approval chain
type Role string

const (
	RoleCommon              Role = "COMMON"
	RoleManager             Role = "MANAGER"
	RoleTeamLead            Role = "TEAM_LEAD"
	RoleSupervisor          Role = "SUPERVISOR"
	RoleHR                  Role = "HR"
	RoleFinanceVerification Role = "FINANCE_VERIFICATION"
	RoleFinancePayment      Role = "FINANCE_PAYMENT"
	RoleCEO                 Role = "CEO"
	// RoleFinance predates the verification/payment split and is kept for existing records.
	RoleFinance Role = "FINANCE"
)

var roleDisplayNames = map[Role]string{
	RoleCommon:              "Common",
	RoleManager:             "Manager",
	RoleTeamLead:            "Team Lead",
	RoleSupervisor:          "Supervisor",
	RoleHR:                  "HR",
	RoleFinanceVerification: "Finance Verification",
	RoleFinancePayment:      "Finance Payment",
	RoleCEO:                 "CEO",
	RoleFinance:             "Finance",
}

// ParseRole accepts the enum value or the display name in any case.
func ParseRole(s string) (Role, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	r := Role(norm)
	if _, ok := roleDisplayNames[r]; !ok {
		return "", NewValidationError("role", fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}

func (r Role) String() string {
	return string(r)
}

// DisplayName returns the human readable role name used in ledger comments.
func (r Role) DisplayName() string {
	if name, ok := roleDisplayNames[r]; ok {
		return name
	}
	return string(r)
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	_, ok := roleDisplayNames[r]
	return ok
}

// IsManagerLike reports whether approvals by r follow the reports-to chain.
func (r Role) IsManagerLike() bool {
	switch r {
	case RoleCommon, RoleManager, RoleTeamLead, RoleSupervisor:
		return true
	}
	return false
}

// IsCheckpoint reports whether r is a fixed organisational checkpoint.
func (r Role) IsCheckpoint() bool {
	switch r {
	case RoleHR, RoleFinanceVerification, RoleFinancePayment, RoleCEO, RoleFinance:
		return true
	}
	return false
}

// CanApprove reports whether a holder of r may approve a request of kind when it is
// assigned to them. Every known role may, because any employee can be someone's manager.
func (r Role) CanApprove(kind RequestKind) bool {
	return r.IsValid() && kind.IsValid()
}

// CanMarkPaid reports whether r disburses funds.
func (r Role) CanMarkPaid() bool {
	return r == RoleFinancePayment
}

// ApprovalFlag is the checkpoint flag an approval by r sets on a request.
type ApprovalFlag int

const (
	FlagNone ApprovalFlag = iota
	FlagFinance
	FlagHR
	FlagCEO
)

// ApprovalFlag returns the flag recorded when r approves.
func (r Role) ApprovalFlag() ApprovalFlag {
	switch r {
	case RoleFinanceVerification, RoleFinance:
		return FlagFinance
	case RoleHR:
		return FlagHR
	case RoleCEO:
		return FlagCEO
	}
	return FlagNone
}

// Employee is a directory record
type Employee struct {
	ID         int64     `json:"id"`
	EmployeeID string    `json:"employee_id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	Department string    `json:"department"`
	Role       Role      `json:"role"`
	ReportsTo  string    `json:"reports_to,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisplayName returns the full name, falling back to the employee id.
func (e *Employee) DisplayName() string {
	if e.FullName != "" {
		return e.FullName
	}
	return e.EmployeeID
}
