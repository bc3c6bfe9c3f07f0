package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/momo_backend/models"
)

type providerListQuery struct {
	Code       *models.ProviderCode `form:"code"`
	ActiveOnly bool                 `form:"active_only"`
}

type toggleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (s *apiServer) listProviders() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q providerListQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, "invalid filter: "+err.Error())
			return
		}
		providers, err := models.GetMomoProviders(c.Request.Context(), q.Code, q.ActiveOnly)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, providers)
	}
}

func (s *apiServer) getProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		provider, err := models.GetMomoProvider(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, provider)
	}
}

func (s *apiServer) createProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewMomoProvider
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
		provider, err := models.CreateMomoProvider(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, provider)
	}
}

func (s *apiServer) updateProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var input models.NewMomoProvider
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
		provider, err := models.UpdateMomoProvider(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, provider)
	}
}

func (s *apiServer) toggleProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req toggleActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "is_active is required")
			return
		}
		provider, err := models.ToggleActiveMomoProvider(c.Request.Context(), id, *req.IsActive)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, provider)
	}
}
