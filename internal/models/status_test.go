package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTransitions(t *testing.T) {
	assert.True(t, TaskStatusOpen.CanTransitionTo(TaskStatusClosed))
	assert.True(t, TaskStatusOpen.CanTransitionTo(TaskStatusCancelled))
	assert.False(t, TaskStatusOpen.CanTransitionTo(TaskStatusOpen))
	for _, terminal := range []TaskStatus{TaskStatusClosed, TaskStatusCancelled} {
		for _, next := range []TaskStatus{TaskStatusOpen, TaskStatusClosed, TaskStatusCancelled} {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
	assert.False(t, TaskStatus("bogus").CanTransitionTo(TaskStatusClosed))
}

func TestSubmissionStatusTransitions(t *testing.T) {
	assert.True(t, SubmissionPending.CanTransitionTo(SubmissionApproved))
	assert.True(t, SubmissionPending.CanTransitionTo(SubmissionRejected))
	assert.False(t, SubmissionApproved.CanTransitionTo(SubmissionApproved))
	assert.False(t, SubmissionApproved.CanTransitionTo(SubmissionRejected))
	assert.False(t, SubmissionRejected.CanTransitionTo(SubmissionApproved))
}

func TestWithdrawalStatusTransitions(t *testing.T) {
	assert.True(t, WithdrawalPending.CanTransitionTo(WithdrawalPaid))
	assert.True(t, WithdrawalPending.CanTransitionTo(WithdrawalRejected))
	assert.True(t, WithdrawalApproved.CanTransitionTo(WithdrawalPaid))
	assert.False(t, WithdrawalApproved.CanTransitionTo(WithdrawalPending))
	assert.False(t, WithdrawalPaid.CanTransitionTo(WithdrawalPaid))
	assert.False(t, WithdrawalRejected.CanTransitionTo(WithdrawalPaid))
}

func TestRoleStartingBalance(t *testing.T) {
	assert.Equal(t, int64(10), RoleWorker.StartingBalance())
	assert.Equal(t, int64(50), RoleBuyer.StartingBalance())
	assert.Equal(t, int64(0), RoleUnspecified.StartingBalance())
	assert.Equal(t, int64(0), RoleAdmin.StartingBalance())
	assert.False(t, RoleAdmin.Registrable())
	assert.True(t, RoleUnspecified.Registrable())
	assert.False(t, Role("requester").Valid())
}

func TestTaskEscrow(t *testing.T) {
	task := &Task{RemainingSlots: 4, PayableAmount: 10}
	assert.Equal(t, int64(40), task.Escrow())
}
