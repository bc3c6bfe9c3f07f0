package main

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/sirupsen/logrus"
)

const maxWebhookBodyBytes = 1 << 20

// webhookSignatureHeaders are tried in order; providers name the header differently.
var webhookSignatureHeaders = []string{"X-Signature", "X-Momo-Signature", "X-Callback-Signature", "X-Hub-Signature-256"}

func webhookSignature(h http.Header) string {
	for _, name := range webhookSignatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// receiveWebhook always answers 200 so providers do not re-deliver in a storm.
// The real outcome is stored on the webhook row and logged.
func (s *apiServer) receiveWebhook() gin.HandlerFunc {
	received := gin.H{"status": "received"}
	return func(c *gin.Context) {
		fields := logrus.Fields{"field": "receiveWebhook", "provider_param": c.Param("providerId")}
		providerId, err := strconv.Atoi(c.Param("providerId"))
		if err != nil || providerId <= 0 {
			s.logger.WithFields(fields).Warn("webhook for unknown provider id")
			c.JSON(http.StatusOK, received)
			return
		}
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
		if err != nil {
			s.logger.WithFields(fields).WithError(err).Warn("webhook body could not be read")
			c.JSON(http.StatusOK, received)
			return
		}

		// Finish the write even when the provider hangs up.
		ctx := context.WithoutCancel(c.Request.Context())
		result, err := s.payments.Webhooks.Ingest(ctx, providerId, payload, webhookSignature(c.Request.Header))
		if result != nil {
			fields["webhook_row_id"] = result.WebhookId
			fields["status"] = result.Status
			fields["duplicate"] = result.Duplicate
		}
		if err != nil {
			s.logger.WithFields(fields).WithError(err).Warn("webhook not applied")
		}
		c.JSON(http.StatusOK, received)
	}
}

func (s *apiServer) listWebhooks() gin.HandlerFunc {
	return func(c *gin.Context) {
		var f models.MomoWebhookFilter
		if err := c.ShouldBindQuery(&f); err != nil {
			badRequest(c, "invalid filter: "+err.Error())
			return
		}
		conn, err := models.ListMomoWebhooks(c.Request.Context(), f)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func (s *apiServer) getWebhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		wh, err := models.GetMomoWebhook(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, wh)
	}
}
