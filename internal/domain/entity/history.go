package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/xpensure/internal/domain/workflow"
)

// ApprovalHistory is one append-only ledger entry
type ApprovalHistory struct {
	ID             int64         `json:"id"`
	RequestKind    RequestKind   `json:"request_kind"`
	RequestID      int64         `json:"request_id"`
	ActorID        string        `json:"actor_id"`
	ActorName      string        `json:"actor_name"`
	Action         Action        `json:"action"`
	Comment        string        `json:"comment"`
	PreviousStatus RequestStatus `json:"previous_status,omitempty"`
	NewStatus      RequestStatus `json:"new_status"`
	Timestamp      time.Time     `json:"timestamp"`
}

var actionTriggers = map[Action]workflow.Trigger{
	ActionSubmitted: workflow.TriggerSubmit,
	ActionApproved:  workflow.TriggerApprove,
	ActionForwarded: workflow.TriggerForward,
	ActionRejected:  workflow.TriggerReject,
	ActionPaid:      workflow.TriggerPay,
}

// ReplayStatus folds ordered ledger entries through the request lifecycle and
// returns the status they lead to. Entries that do not chain fail the replay.
func ReplayStatus(entries []*ApprovalHistory) (RequestStatus, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("replay: %w: empty ledger", ErrNotFound)
	}

	ctx := context.Background()
	state := workflow.StateDraft
	for i, e := range entries {
		trigger, ok := actionTriggers[e.Action]
		if !ok {
			return "", fmt.Errorf("replay: entry %d: unknown action %q", i, e.Action)
		}
		if e.PreviousStatus != "" && workflow.State(e.PreviousStatus) != state {
			return "", fmt.Errorf("replay: entry %d: previous status %s does not follow %s", i, e.PreviousStatus, state)
		}

		next, err := workflow.Next(workflow.WithNextHop(ctx, e.NewStatus == StatusPending), state, trigger)
		if err != nil {
			return "", fmt.Errorf("replay: entry %d: %w", i, err)
		}
		if next != workflow.State(e.NewStatus) {
			return "", fmt.Errorf("replay: entry %d: %s leads to %s, ledger says %s", i, e.Action, next, e.NewStatus)
		}
		state = next
	}
	return RequestStatus(state), nil
}
