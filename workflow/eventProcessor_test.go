package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationFromEvent(t *testing.T) {
	reason := "insufficient funds"
	payload, err := json.Marshal(models.MomoEventPayload{
		TransactionId: 12,
		Type:          models.TransactionTypePayout,
		Status:        models.TransactionStatusFailed,
		Amount:        "150.00",
		Currency:      "ZMW",
		Msisdn:        "260971234567",
		Reference:     "po-12",
		FailureReason: &reason,
	})
	require.NoError(t, err)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	n, err := notificationFromEvent(config.MomoEventMessage{
		ID:            3,
		CompanyId:     "c1",
		TransactionId: 12,
		EventType:     models.MomoEventTransactionFailed,
		EventDateTime: at,
		Payload:       payload,
		CorrelationId: "corr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", n.CompanyId)
	assert.Equal(t, models.TransactionStatusFailed, n.Status)
	assert.Equal(t, models.TransactionTypePayout, n.Type)
	assert.Equal(t, "150.00", n.Amount)
	assert.Equal(t, "po-12", n.Reference)
	assert.Equal(t, &reason, n.FailureReason)
	assert.Equal(t, at, n.OccurredAt)
	assert.Equal(t, "corr-1", n.CorrelationId)
}

func TestNotificationFromEventRejectsBadPayload(t *testing.T) {
	_, err := notificationFromEvent(config.MomoEventMessage{Payload: []byte("{not json")})
	assert.Error(t, err)
}

func TestEventProcessorRejectsIncompleteMessage(t *testing.T) {
	p := NewEventProcessor(logrus.New())
	err := p.Process(context.Background(), config.MomoEventMessage{EventType: models.MomoEventTransactionCompleted})
	assert.True(t, models.IsValidationError(err))
}
