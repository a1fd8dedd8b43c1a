package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AttachmentRef points at a stored file
type AttachmentRef struct {
	Path         string `json:"path"`
	URL          string `json:"url"`
	OriginalName string `json:"original_name,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// ProjectRef links an advance to a project
type ProjectRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// PaymentRecord is one disbursement made against a request
type PaymentRecord struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
	Note        string          `json:"note,omitempty"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
}

// Request is a reimbursement or an advance moving through the approval chain
type Request struct {
	ID          int64           `json:"id"`
	Kind        RequestKind     `json:"kind"`
	EmployeeID  string          `json:"employee_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Attachments []AttachmentRef `json:"attachments"`
	Project     *ProjectRef     `json:"project,omitempty"`

	// ExpenseDate is set on reimbursements, RequestDate and ProjectDate on advances.
	ExpenseDate *time.Time `json:"expense_date,omitempty"`
	RequestDate *time.Time `json:"request_date,omitempty"`
	ProjectDate *time.Time `json:"project_date,omitempty"`

	Status            RequestStatus `json:"status"`
	CurrentApproverID *string       `json:"current_approver_id,omitempty"`
	FinalApproverID   *string       `json:"final_approver_id,omitempty"`
	RejectionReason   *string       `json:"rejection_reason,omitempty"`
	ApprovedByFinance bool          `json:"approved_by_finance"`
	ApprovedByHR      bool          `json:"approved_by_hr"`
	ApprovedByCEO     bool          `json:"approved_by_ceo"`
	CurrentStep       int           `json:"current_step"`

	PaymentDate *time.Time      `json:"payment_date,omitempty"`
	Payments    []PaymentRecord `json:"payments"`
	// LegacyPayments holds a stored payments value that predates PaymentRecord.
	LegacyPayments json.RawMessage `json:"-"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAssignedTo reports whether employeeID currently holds the request.
func (r *Request) IsAssignedTo(employeeID string) bool {
	return r.CurrentApproverID != nil && *r.CurrentApproverID == employeeID
}

// CurrentApprover returns the current approver id or "".
func (r *Request) CurrentApprover() string {
	if r.CurrentApproverID == nil {
		return ""
	}
	return *r.CurrentApproverID
}

// SetFlag marks a checkpoint approval.
func (r *Request) SetFlag(flag ApprovalFlag) {
	switch flag {
	case FlagFinance:
		r.ApprovedByFinance = true
	case FlagHR:
		r.ApprovedByHR = true
	case FlagCEO:
		r.ApprovedByCEO = true
	}
}

// TotalPaid sums the recorded payment amounts.
func (r *Request) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// CheckInvariants verifies the status/approver and status/reason pairings.
// A request released to the payment step by the CEO is pending and held, so the
// pairing holds for it as well.
func (r *Request) CheckInvariants() error {
	if r.Status.IsTerminal() == (r.CurrentApproverID != nil) {
		return &InvalidStateError{Status: r.Status, Message: "terminal status must not have a current approver"}
	}
	if (r.RejectionReason != nil) != (r.Status == StatusRejected) {
		return &InvalidStateError{Status: r.Status, Message: "rejection reason must be set exactly when rejected"}
	}
	return nil
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
