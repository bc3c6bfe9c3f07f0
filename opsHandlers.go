package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/sirupsen/logrus"
)

// PubSubMessage is the push-subscription envelope.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// momoEventsPushHandler consumes push deliveries of MOMO_EVENTS_TOPIC.
// 2xx acks; non-2xx asks Pub/Sub to redeliver.
func (s *apiServer) momoEventsPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := s.logger

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "opsHandlers.go", "momoEventsPushHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "opsHandlers.go", "momoEventsPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var m config.MomoEventMessage
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "opsHandlers.go", "momoEventsPushHandler", "Unmarshal pubsub message", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		// Poisoned messages are dropped instead of looping.
		if m.CompanyId == "" || m.TransactionId <= 0 {
			config.LogError(logger, "opsHandlers.go", "momoEventsPushHandler", "Invalid pubsub message (missing required fields)", m, fmt.Errorf("company_id/transaction_id required"))
			c.Status(http.StatusNoContent)
			return
		}
		if m.CorrelationId == "" {
			m.CorrelationId = msg.Message.ID
		}
		fields := logrus.Fields{
			"field":          "momoEventsPushHandler",
			"company_id":     m.CompanyId,
			"transaction_id": m.TransactionId,
			"event_type":     m.EventType,
			"message_id":     msg.Message.ID,
			"correlation_id": m.CorrelationId,
		}

		// Best effort: idempotency keys make concurrent deliveries safe without the lock.
		var lock *redislock.Lock
		if redisLock := config.GetRedisLock(); redisLock == nil {
			logger.WithFields(fields).Warn("redis lock not ready; proceeding without redis lock")
		} else {
			lock, err = redisLock.Obtain(c.Request.Context(), fmt.Sprintf("lock:momo_txn:%s:%d", m.CompanyId, m.TransactionId), 30*time.Second, nil)
			if errors.Is(err, redislock.ErrNotObtained) {
				logger.WithFields(fields).Warn("could not obtain redis lock; proceeding without redis lock")
				lock = nil
			} else if err != nil {
				logger.WithFields(fields).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(fields).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		ctx := utils.SystemContext(c.Request.Context(), m.CompanyId)
		ctx = utils.SetCorrelationIdInContext(ctx, m.CorrelationId)
		if err := ProcessMessage(ctx, logger, s.events, m); err != nil {
			logger.WithFields(fields).Error("pubsub processing failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id"`
}

func (s *apiServer) getOutboxRecord() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		rec, err := models.GetMomoEventRecord(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// outboxReplayHandler re-queues one DEAD or FAILED record for publish and processing.
func (s *apiServer) outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RecordId <= 0 {
			badRequest(c, "record_id is required")
			return
		}
		ctx := c.Request.Context()
		companyId, err := utils.RequireCompanyId(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		if _, err := models.GetMomoEventRecord(ctx, req.RecordId); err != nil {
			respondError(c, err)
			return
		}

		now := time.Now().UTC()
		if err := config.GetDB().WithContext(ctx).
			Model(&models.MomoEventRecord{}).
			Where("id = ? AND company_id = ?", req.RecordId, companyId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"next_attempt_at":    &now,
				"publish_attempts":   0,
				"processing_status":  models.OutboxProcessStatusFailed,
				"next_process_at":    &now,
				"process_attempts":   0,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error; err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"company_id":        companyId,
			"record_id":         req.RecordId,
			"publish_status":    models.OutboxPublishStatusFailed,
			"processing_status": models.OutboxProcessStatusFailed,
			"next_attempt_at":   now.Format(time.RFC3339Nano),
		})
	}
}
