package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/dto"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	appErrors "github.com/natsumeaurlia/exam-forge-integrations/pkg/errors"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/response"
)

const (
	defaultListLimit = 50
	defaultStatsDays = 7
)

type integrationService interface {
	Create(ctx context.Context, teamID string, req dto.CreateIntegrationRequest) (*dto.IntegrationItem, error)
	Get(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error)
	List(ctx context.Context, teamID string) ([]dto.IntegrationItem, error)
	Delete(ctx context.Context, teamID, id string) error
	Connect(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error)
	Disconnect(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error)
	Test(ctx context.Context, teamID, id string) (*dto.ConnectionTestResult, error)
	Sync(ctx context.Context, teamID, id string, req dto.SyncRequest) (*models.SyncOperation, error)
	Events(ctx context.Context, teamID, id string, limit int) ([]models.IntegrationEvent, error)
	Deliveries(ctx context.Context, teamID, id string, limit int) ([]models.WebhookDelivery, error)
	DeliveryStats(ctx context.Context, teamID, id string, days int) (*models.DeliveryStats, error)
	ExportDeliveries(ctx context.Context, teamID, id, format string, limit int) ([]byte, string, error)
	EmitEvent(ctx context.Context, teamID string, req dto.EmitEventRequest) error
}

// IntegrationHandler exposes the integration lifecycle endpoints.
type IntegrationHandler struct {
	service integrationService
}

// NewIntegrationHandler builds a new handler.
func NewIntegrationHandler(service integrationService) *IntegrationHandler {
	return &IntegrationHandler{service: service}
}

// Create godoc
// @Summary Register an integration
// @Tags Integrations
// @Accept json
// @Produce json
// @Param payload body dto.CreateIntegrationRequest true "Integration payload"
// @Success 201 {object} response.Envelope
// @Router /integrations [post]
func (h *IntegrationHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid integration payload"))
		return
	}
	item, err := h.service.Create(c.Request.Context(), claims.TeamID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// List godoc
// @Summary List the team's integrations
// @Tags Integrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /integrations [get]
func (h *IntegrationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.service.List(c.Request.Context(), claims.TeamID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get one integration
// @Tags Integrations
// @Produce json
// @Param id path string true "Integration id"
// @Success 200 {object} response.Envelope
// @Router /integrations/{id} [get]
func (h *IntegrationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.Get(c.Request.Context(), claims.TeamID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete an integration
// @Tags Integrations
// @Param id path string true "Integration id"
// @Success 204
// @Router /integrations/{id} [delete]
func (h *IntegrationHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), claims.TeamID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Connect godoc
// @Summary Connect an integration to its external system
// @Tags Integrations
// @Produce json
// @Param id path string true "Integration id"
// @Success 200 {object} response.Envelope
// @Router /integrations/{id}/connect [post]
func (h *IntegrationHandler) Connect(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.Connect(c.Request.Context(), claims.TeamID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Disconnect godoc
// @Summary Disconnect an integration
// @Tags Integrations
// @Produce json
// @Param id path string true "Integration id"
// @Success 200 {object} response.Envelope
// @Router /integrations/{id}/disconnect [post]
func (h *IntegrationHandler) Disconnect(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.Disconnect(c.Request.Context(), claims.TeamID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Test godoc
// @Summary Probe an integration's connectivity
// @Tags Integrations
// @Produce json
// @Param id path string true "Integration id"
// @Success 200 {object} response.Envelope
// @Router /integrations/{id}/test [post]
func (h *IntegrationHandler) Test(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Test(c.Request.Context(), claims.TeamID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Sync godoc
// @Summary Run one LMS sync pass
// @Tags Integrations
// @Accept json
// @Produce json
// @Param id path string true "Integration id"
// @Param payload body dto.SyncRequest true "Sync payload"
// @Success 200 {object} response.Envelope
// @Router /integrations/{id}/sync [post]
func (h *IntegrationHandler) Sync(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sync payload"))
		return
	}
	op, err := h.service.Sync(c.Request.Context(), claims.TeamID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, op, nil)
}

// Events godoc
// @Summary List recent integration activity
// @Tags Integrations
// @Produce json
// @Param id path string true "Integration id"
// @Param limit query int false "Max entries"
// @Success 200 {object} response.Envelope
// @Router /integrations/{id}/events [get]
func (h *IntegrationHandler) Events(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	events, err := h.service.Events(c.Request.Context(), claims.TeamID, c.Param("id"), queryInt(c, "limit", defaultListLimit))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// Deliveries godoc
// @Summary List webhook delivery history
// @Tags Integrations
// @Produce json
// @Param id path string true "Integration id"
// @Param limit query int false "Max entries"
// @Success 200 {object} response.Envelope
// @Router /integrations/{id}/deliveries [get]
func (h *IntegrationHandler) Deliveries(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	deliveries, err := h.service.Deliveries(c.Request.Context(), claims.TeamID, c.Param("id"), queryInt(c, "limit", defaultListLimit))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, deliveries, nil)
}

// Stats godoc
// @Summary Webhook delivery statistics
// @Tags Integrations
// @Produce json
// @Param id path string true "Integration id"
// @Param days query int false "Trailing window in days"
// @Success 200 {object} response.Envelope
// @Router /integrations/{id}/stats [get]
func (h *IntegrationHandler) Stats(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, err := h.service.DeliveryStats(c.Request.Context(), claims.TeamID, c.Param("id"), queryInt(c, "days", defaultStatsDays))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Export godoc
// @Summary Export webhook delivery history
// @Tags Integrations
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Integration id"
// @Param format query string false "csv or pdf"
// @Param limit query int false "Max entries"
// @Success 200 {file} file
// @Router /integrations/{id}/deliveries/export [get]
func (h *IntegrationHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := c.DefaultQuery("format", "csv")
	raw, contentType, err := h.service.ExportDeliveries(c.Request.Context(), claims.TeamID, c.Param("id"), format, queryInt(c, "limit", defaultListLimit))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=deliveries.%s", format))
	c.Data(http.StatusOK, contentType, raw)
}

// Emit godoc
// @Summary Emit an event to the team's subscribed webhooks
// @Tags Events
// @Accept json
// @Produce json
// @Param payload body dto.EmitEventRequest true "Event payload"
// @Success 202 {object} response.Envelope
// @Router /events [post]
func (h *IntegrationHandler) Emit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}
	if err := h.service.EmitEvent(c.Request.Context(), claims.TeamID, req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"accepted": true}, nil)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
