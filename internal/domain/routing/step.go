package routing

import "github.com/garyjia/xpensure/internal/domain/entity"

// Step numbers shown to users. They are derived, never stored as a source of truth.
const (
	StepSubmitted    = 1
	StepManager      = 2
	StepVerification = 3
)

func paymentStep(kind entity.RequestKind) int {
	if kind == entity.KindAdvance {
		return 6
	}
	return 5
}

func ceoStep(kind entity.RequestKind) int {
	if kind == entity.KindAdvance {
		return 5
	}
	return 4
}

// StepFor derives the display step from the request kind, its status, and the role of
// the current approver. approverRole is ignored for terminal statuses.
func StepFor(kind entity.RequestKind, status entity.RequestStatus, approverRole entity.Role) int {
	switch status {
	case entity.StatusApproved:
		return paymentStep(kind)
	case entity.StatusPaid:
		return paymentStep(kind) + 1
	case entity.StatusRejected:
		return 0
	}

	switch approverRole {
	case entity.RoleFinanceVerification, entity.RoleFinance:
		return StepVerification
	case entity.RoleHR:
		return 4
	case entity.RoleCEO:
		return ceoStep(kind)
	case entity.RoleFinancePayment:
		return paymentStep(kind)
	}
	return StepManager
}

// AdvanceStep returns the step after a transition, never moving backwards.
// Rejection keeps the step at which the request stopped.
func AdvanceStep(current int, kind entity.RequestKind, status entity.RequestStatus, approverRole entity.Role) int {
	next := StepFor(kind, status, approverRole)
	if next > current {
		return next
	}
	return current
}
