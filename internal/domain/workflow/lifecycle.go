package workflow

import "context"

type hopKey struct{}

// WithNextHop records on ctx whether the approval being fired hands the request to another
// approver. The APPROVE guards read it to pick between staying pending and closing the chain.
func WithNextHop(ctx context.Context, hasNext bool) context.Context {
	return context.WithValue(ctx, hopKey{}, hasNext)
}

func hasNextHop(ctx context.Context) bool {
	v, _ := ctx.Value(hopKey{}).(bool)
	return v
}

func noNextHop(ctx context.Context) bool {
	return !hasNextHop(ctx)
}

// RequestLifecycle is the request state table:
//
//	DRAFT    --submit-->           PENDING
//	PENDING  --approve [next]-->   PENDING
//	PENDING  --approve [last]-->   APPROVED
//	PENDING  --forward-->          PENDING
//	PENDING  --reject-->           REJECTED
//	APPROVED --pay-->              PAID
var RequestLifecycle = MustTable(
	Transition{From: StateDraft, Trigger: TriggerSubmit, To: StatePending},
	Transition{From: StatePending, Trigger: TriggerApprove, To: StatePending, Guard: hasNextHop},
	Transition{From: StatePending, Trigger: TriggerApprove, To: StateApproved, Guard: noNextHop},
	Transition{From: StatePending, Trigger: TriggerForward, To: StatePending},
	Transition{From: StatePending, Trigger: TriggerReject, To: StateRejected},
	Transition{From: StateApproved, Trigger: TriggerPay, To: StatePaid},
)

// Next validates trigger against the request lifecycle and returns the resulting state
func Next(ctx context.Context, from State, trigger Trigger) (State, error) {
	return RequestLifecycle.Next(ctx, from, trigger)
}
