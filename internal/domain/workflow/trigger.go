package workflow

// Trigger is an engine operation that moves a request between states
type Trigger string

const (
	TriggerSubmit  Trigger = "SUBMIT"
	TriggerApprove Trigger = "APPROVE"
	TriggerForward Trigger = "FORWARD"
	TriggerReject  Trigger = "REJECT"
	TriggerPay     Trigger = "PAY"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
