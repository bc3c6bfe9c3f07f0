package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		ok       bool
	}{
		{TransactionStatusPending, TransactionStatusProcessing, true},
		{TransactionStatusPending, TransactionStatusFailed, true},
		{TransactionStatusPending, TransactionStatusCancelled, true},
		{TransactionStatusPending, TransactionStatusExpired, true},
		{TransactionStatusPending, TransactionStatusCompleted, false},
		{TransactionStatusProcessing, TransactionStatusCompleted, true},
		{TransactionStatusProcessing, TransactionStatusFailed, true},
		{TransactionStatusProcessing, TransactionStatusCancelled, true},
		{TransactionStatusProcessing, TransactionStatusExpired, true},
		{TransactionStatusProcessing, TransactionStatusPending, false},
		{TransactionStatusProcessing, TransactionStatusProcessing, false},
		{TransactionStatusCompleted, TransactionStatusPending, false},
		{TransactionStatusCompleted, TransactionStatusFailed, false},
		{TransactionStatusFailed, TransactionStatusCompleted, false},
		{TransactionStatusExpired, TransactionStatusProcessing, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	terminal := []TransactionStatus{
		TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
		for to := range AllowedTransactionTransitions {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	assert.False(t, TransactionStatusPending.IsTerminal())
	assert.False(t, TransactionStatusProcessing.IsTerminal())
	assert.False(t, TransactionStatus("refunded").IsValid())
}

func TestCheckTransition(t *testing.T) {
	require.NoError(t, CheckTransition(1, TransactionStatusPending, TransactionStatusProcessing))

	err := CheckTransition(7, TransactionStatusCompleted, TransactionStatusCompleted)
	var terminal *TerminalStateViolation
	require.True(t, errors.As(err, &terminal))
	assert.Equal(t, 7, terminal.TransactionId)
	assert.Equal(t, TransactionStatusCompleted, terminal.Current)
	assert.True(t, IsTerminalStateViolation(err))

	err = CheckTransition(8, TransactionStatusProcessing, TransactionStatusPending)
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, TransactionStatusPending, invalid.To)

	err = CheckTransition(9, TransactionStatusPending, TransactionStatus("bogus"))
	assert.True(t, errors.As(err, &invalid))
}

func TestBuildTransitionUpdates(t *testing.T) {
	updates := buildTransitionUpdates(TransitionRequest{
		To:             TransactionStatusCompleted,
		ProviderStatus: "SUCCESSFUL",
	})
	assert.Equal(t, TransactionStatusCompleted, updates["status"])
	assert.Contains(t, updates, "completed_at")
	assert.Contains(t, updates, "version")
	assert.Equal(t, "SUCCESSFUL", updates["provider_status"])
	assert.Nil(t, updates["next_retry_at"])
	assert.Contains(t, updates, "next_retry_at")
	assert.NotContains(t, updates, "provider_reference")

	updates = buildTransitionUpdates(TransitionRequest{
		To:                TransactionStatusProcessing,
		ProviderReference: "abc-123",
	})
	assert.Contains(t, updates, "processing_at")
	assert.Equal(t, "abc-123", updates["provider_reference"])
	assert.NotContains(t, updates, "next_retry_at")

	due := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	updates = buildTransitionUpdates(TransitionRequest{
		To:          TransactionStatusProcessing,
		NextRetryAt: &due,
	})
	assert.Equal(t, &due, updates["next_retry_at"])
	assert.Contains(t, updates, "locked_at")

	updates = buildTransitionUpdates(TransitionRequest{
		To:            TransactionStatusFailed,
		FailureReason: "retries exhausted",
		NeedsReview:   true,
		ReviewReason:  "retries exhausted",
	})
	assert.Equal(t, true, updates["needs_review"])
	assert.Equal(t, "retries exhausted", updates["failure_reason"])
	assert.Contains(t, updates, "failed_at")
}

func TestReconciliationTransitions(t *testing.T) {
	assert.True(t, CanTransitionReconciliation(ReconciliationStatusDraft, ReconciliationStatusInProgress))
	assert.True(t, CanTransitionReconciliation(ReconciliationStatusInProgress, ReconciliationStatusCompleted))
	assert.True(t, CanTransitionReconciliation(ReconciliationStatusCompleted, ReconciliationStatusApproved))
	assert.True(t, CanTransitionReconciliation(ReconciliationStatusCompleted, ReconciliationStatusInProgress))
	assert.False(t, CanTransitionReconciliation(ReconciliationStatusInProgress, ReconciliationStatusApproved))
	assert.False(t, CanTransitionReconciliation(ReconciliationStatusDraft, ReconciliationStatusApproved))
	assert.False(t, CanTransitionReconciliation(ReconciliationStatusApproved, ReconciliationStatusInProgress))
}
