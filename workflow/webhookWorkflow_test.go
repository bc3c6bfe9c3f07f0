package workflow

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/stretchr/testify/assert"
)

func TestReplayableFailureKeepsTransaction(t *testing.T) {
	txnId := 7
	outcome := replayableFailure(models.WebhookOutcome{Status: models.WebhookStatusProcessed, TransactionId: &txnId}, errors.New("deadlock found"))

	assert.Equal(t, models.WebhookStatusFailed, outcome.Status)
	assert.True(t, outcome.Replayable)
	assert.Equal(t, "deadlock found", outcome.Error)
	if assert.NotNil(t, outcome.TransactionId) {
		assert.Equal(t, 7, *outcome.TransactionId)
	}
}

func TestReplayableFailureWithoutTransaction(t *testing.T) {
	outcome := replayableFailure(models.WebhookOutcome{}, errors.New("connection reset"))

	assert.Equal(t, models.WebhookStatusFailed, outcome.Status)
	assert.True(t, outcome.Replayable)
	assert.Nil(t, outcome.TransactionId)
}
