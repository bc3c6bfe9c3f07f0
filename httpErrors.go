package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/mmdatafocus/momo_backend/workflow"
	"gorm.io/gorm"
)

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	var (
		validation *models.ValidationError
		terminal   *models.TerminalStateViolation
		invalid    *models.InvalidTransitionError
		duplicate  *models.DuplicateError
		provider   *models.ProviderError
		signature  *models.SignatureError
		mismatch   *workflow.AmountMismatchError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrCompanyRequired), errors.As(err, &signature):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &terminal), errors.As(err, &invalid), errors.As(err, &duplicate),
		errors.As(err, &mismatch),
		errors.Is(err, models.ErrConcurrentTransition),
		errors.Is(err, models.ErrProviderInactive),
		errors.Is(err, models.ErrApprovalRequired),
		errors.Is(err, workflow.ErrIdempotencyInProgress),
		errors.Is(err, workflow.ErrReconciliationBusy):
		return http.StatusConflict
	case errors.As(err, &provider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes the mapped status. Internal errors are logged and not echoed.
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		_ = c.Error(err)
		config.LogError(config.GetLogger(), "server.go", c.FullPath(), c.Request.Method, nil, err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// intParam reads a positive integer path parameter.
func intParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
