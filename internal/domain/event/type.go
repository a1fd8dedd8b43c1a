package event

// Type identifies a request lifecycle event
type Type string

const (
	TypeRequestSubmitted Type = "request.submitted"
	TypeRequestForwarded Type = "request.forwarded"
	TypeRequestAdvanced  Type = "request.advanced"
	TypeRequestApproved  Type = "request.approved"
	TypeRequestRejected  Type = "request.rejected"
	TypeRequestPaid      Type = "request.paid"
)

func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestSubmitted,
		TypeRequestForwarded,
		TypeRequestAdvanced,
		TypeRequestApproved,
		TypeRequestRejected,
		TypeRequestPaid:
		return true
	default:
		return false
	}
}
