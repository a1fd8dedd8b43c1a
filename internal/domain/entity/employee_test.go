package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"CEO", RoleCEO},
		{"Finance Verification", RoleFinanceVerification},
		{"finance_payment", RoleFinancePayment},
		{"team-lead", RoleTeamLead},
		{" supervisor ", RoleSupervisor},
		{"Finance", RoleFinance},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseRole("janitor")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestRole_Capabilities(t *testing.T) {
	for _, r := range []Role{RoleCommon, RoleManager, RoleTeamLead, RoleSupervisor} {
		assert.True(t, r.IsManagerLike(), r)
		assert.False(t, r.IsCheckpoint(), r)
		assert.Equal(t, FlagNone, r.ApprovalFlag(), r)
	}
	for _, r := range []Role{RoleHR, RoleFinanceVerification, RoleFinancePayment, RoleCEO, RoleFinance} {
		assert.False(t, r.IsManagerLike(), r)
		assert.True(t, r.IsCheckpoint(), r)
	}

	assert.Equal(t, FlagFinance, RoleFinanceVerification.ApprovalFlag())
	assert.Equal(t, FlagFinance, RoleFinance.ApprovalFlag())
	assert.Equal(t, FlagHR, RoleHR.ApprovalFlag())
	assert.Equal(t, FlagCEO, RoleCEO.ApprovalFlag())
	assert.Equal(t, FlagNone, RoleFinancePayment.ApprovalFlag())

	assert.True(t, RoleFinancePayment.CanMarkPaid())
	assert.False(t, RoleCEO.CanMarkPaid())
	assert.True(t, RoleHR.CanApprove(KindReimbursement))
	assert.False(t, Role("X").CanApprove(KindAdvance))
	assert.False(t, RoleCEO.CanApprove(RequestKind("loan")))
}

func TestParseStatus_Legacy(t *testing.T) {
	s, err := ParseStatus("PENDING_FINANCE")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s)

	_, err = ParseStatus("ARCHIVED")
	assert.Error(t, err)
}

func TestParseRequestKind(t *testing.T) {
	k, err := ParseRequestKind("Advances")
	require.NoError(t, err)
	assert.Equal(t, KindAdvance, k)
	assert.Equal(t, "advance_attachments", k.AttachmentFolder())

	_, err = ParseRequestKind("loan")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, IsClientError(NewValidationError("amount", "must be positive")))
	assert.True(t, IsClientError(&UnauthorizedError{ActorID: "e1", Expected: "m1"}))
	assert.True(t, IsClientError(&InvalidStateError{Status: StatusPaid, Operation: "approve"}))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.False(t, IsClientError(ErrRoutingDeadEnd))
	assert.True(t, IsRetryable(ErrConcurrentModification))

	err := &InvalidStateError{Status: StatusPending, Message: "must be approved before payment"}
	assert.Contains(t, err.Error(), "must be approved before payment")
}
