package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys set by the request service
const (
	KeyEmployeeID      = "employee_id"
	KeyNextApproverID  = "next_approver_id"
	KeyStatus          = "status"
	KeyRejectionReason = "rejection_reason"
	KeyAmount          = "amount"
)

// Event is a committed request transition
type Event struct {
	ID          string                 `json:"id"`
	Type        Type                   `json:"type"`
	RequestKind string                 `json:"request_kind"`
	RequestID   int64                  `json:"request_id"`
	ActorID     string                 `json:"actor_id"`
	Payload     map[string]interface{} `json:"payload"`
	Timestamp   time.Time              `json:"timestamp"`
}

// NewEvent creates an event with a random id
func NewEvent(eventType Type, requestKind string, requestID int64, actorID string, at time.Time) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		RequestKind: requestKind,
		RequestID:   requestID,
		ActorID:     actorID,
		Payload:     map[string]interface{}{},
		Timestamp:   at,
	}
}

// WithPayload returns a copy of the event with key set
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	cp := *e
	cp.Payload = payload
	return &cp
}

// GetPayloadString returns the string stored under key, or ""
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
