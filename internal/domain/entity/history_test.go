package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(action Action, prev, next RequestStatus) *ApprovalHistory {
	return &ApprovalHistory{Action: action, PreviousStatus: prev, NewStatus: next}
}

func TestReplayStatus(t *testing.T) {
	tests := []struct {
		name    string
		entries []*ApprovalHistory
		want    RequestStatus
	}{
		{
			name:    "submitted only",
			entries: []*ApprovalHistory{entry(ActionSubmitted, "", StatusPending)},
			want:    StatusPending,
		},
		{
			name: "auto approved",
			entries: []*ApprovalHistory{
				entry(ActionSubmitted, "", StatusPending),
				entry(ActionApproved, StatusPending, StatusApproved),
			},
			want: StatusApproved,
		},
		{
			name: "full chain to paid",
			entries: []*ApprovalHistory{
				entry(ActionSubmitted, "", StatusPending),
				entry(ActionApproved, StatusPending, StatusPending),
				entry(ActionForwarded, StatusPending, StatusPending),
				entry(ActionApproved, StatusPending, StatusPending),
				entry(ActionApproved, StatusPending, StatusApproved),
				entry(ActionPaid, StatusApproved, StatusPaid),
			},
			want: StatusPaid,
		},
		{
			name: "rejected",
			entries: []*ApprovalHistory{
				entry(ActionSubmitted, "", StatusPending),
				entry(ActionRejected, StatusPending, StatusRejected),
			},
			want: StatusRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReplayStatus(tt.entries)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplayStatus_Broken(t *testing.T) {
	_, err := ReplayStatus(nil)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = ReplayStatus([]*ApprovalHistory{
		entry(ActionSubmitted, "", StatusPending),
		entry(ActionPaid, StatusPending, StatusPaid),
	})
	assert.Error(t, err, "pay before approval must not replay")

	_, err = ReplayStatus([]*ApprovalHistory{
		entry(ActionSubmitted, "", StatusPending),
		entry(ActionRejected, StatusPending, StatusRejected),
		entry(ActionApproved, StatusRejected, StatusApproved),
	})
	assert.Error(t, err, "nothing leaves a rejected request")

	_, err = ReplayStatus([]*ApprovalHistory{
		entry(ActionSubmitted, "", StatusPending),
		entry(ActionApproved, StatusApproved, StatusApproved),
	})
	assert.Error(t, err, "previous status must chain")
}

func TestRequest_CheckInvariants(t *testing.T) {
	r := &Request{Status: StatusPending, CurrentApproverID: StringPtr("m1")}
	assert.NoError(t, r.CheckInvariants())

	r = &Request{Status: StatusPending}
	assert.Error(t, r.CheckInvariants())

	r = &Request{Status: StatusRejected, RejectionReason: StringPtr("no receipt")}
	assert.NoError(t, r.CheckInvariants())

	r = &Request{Status: StatusApproved, RejectionReason: StringPtr("stale")}
	assert.Error(t, r.CheckInvariants())
}
