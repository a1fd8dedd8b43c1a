package entity

import (
	"fmt"
	"strings"
)

// RequestKind discriminates reimbursements from cash advances
type RequestKind string

const (
	KindReimbursement RequestKind = "reimbursement"
	KindAdvance       RequestKind = "advance"
)

// ParseRequestKind accepts singular or plural forms in any case.
func ParseRequestKind(s string) (RequestKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reimbursement", "reimbursements":
		return KindReimbursement, nil
	case "advance", "advances":
		return KindAdvance, nil
	}
	return "", NewValidationError("kind", fmt.Sprintf("unknown request kind %q", s))
}

func (k RequestKind) IsValid() bool {
	return k == KindReimbursement || k == KindAdvance
}

func (k RequestKind) String() string {
	return string(k)
}

// AttachmentFolder is the storage folder for files submitted with requests of kind k.
func (k RequestKind) AttachmentFolder() string {
	return string(k) + "_attachments"
}

// RequestStatus is the persisted lifecycle status of a request
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
	StatusPaid     RequestStatus = "PAID"
)

// legacyStatusPendingFinance was written by the old single-finance flow.
const legacyStatusPendingFinance = "PENDING_FINANCE"

// ParseStatus maps stored values, including legacy ones, to a status.
func ParseStatus(s string) (RequestStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING", legacyStatusPendingFinance:
		return StatusPending, nil
	case "APPROVED":
		return StatusApproved, nil
	case "REJECTED":
		return StatusRejected, nil
	case "PAID":
		return StatusPaid, nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// IsTerminal reports whether the status has left the approval chain.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusPaid
}

func (s RequestStatus) String() string {
	return string(s)
}

// Action is the kind of a ledger entry
type Action string

const (
	ActionSubmitted Action = "submitted"
	ActionApproved  Action = "approved"
	ActionRejected  Action = "rejected"
	ActionForwarded Action = "forwarded"
	ActionPaid      Action = "paid"
)

// SystemActorID is recorded as the actor of automatic approvals.
const SystemActorID = "system"
