package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/dto"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/middleware"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	appErrors "github.com/natsumeaurlia/exam-forge-integrations/pkg/errors"
)

type integrationServiceMock struct {
	item      *dto.IntegrationItem
	createErr error
	syncOp    *models.SyncOperation
	emitted   []dto.EmitEventRequest
	exportRaw []byte
}

func (m *integrationServiceMock) Create(ctx context.Context, teamID string, req dto.CreateIntegrationRequest) (*dto.IntegrationItem, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.item, nil
}

func (m *integrationServiceMock) Get(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error) {
	if m.item == nil || m.item.ID != id {
		return nil, appErrors.ErrNotFound
	}
	return m.item, nil
}

func (m *integrationServiceMock) List(ctx context.Context, teamID string) ([]dto.IntegrationItem, error) {
	if m.item == nil {
		return []dto.IntegrationItem{}, nil
	}
	return []dto.IntegrationItem{*m.item}, nil
}

func (m *integrationServiceMock) Delete(ctx context.Context, teamID, id string) error {
	if m.item == nil || m.item.ID != id {
		return appErrors.ErrNotFound
	}
	return nil
}

func (m *integrationServiceMock) Connect(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error) {
	return m.Get(ctx, teamID, id)
}

func (m *integrationServiceMock) Disconnect(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error) {
	return m.Get(ctx, teamID, id)
}

func (m *integrationServiceMock) Test(ctx context.Context, teamID, id string) (*dto.ConnectionTestResult, error) {
	return &dto.ConnectionTestResult{Healthy: true, Status: "active"}, nil
}

func (m *integrationServiceMock) Sync(ctx context.Context, teamID, id string, req dto.SyncRequest) (*models.SyncOperation, error) {
	return m.syncOp, nil
}

func (m *integrationServiceMock) Events(ctx context.Context, teamID, id string, limit int) ([]models.IntegrationEvent, error) {
	return []models.IntegrationEvent{}, nil
}

func (m *integrationServiceMock) Deliveries(ctx context.Context, teamID, id string, limit int) ([]models.WebhookDelivery, error) {
	return []models.WebhookDelivery{}, nil
}

func (m *integrationServiceMock) DeliveryStats(ctx context.Context, teamID, id string, days int) (*models.DeliveryStats, error) {
	return &models.DeliveryStats{Total: 4, Delivered: 3, Failed: 1, SuccessRate: 75, Days: days}, nil
}

func (m *integrationServiceMock) ExportDeliveries(ctx context.Context, teamID, id, format string, limit int) ([]byte, string, error) {
	if format != "csv" {
		return nil, "", appErrors.New(appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}
	return m.exportRaw, "text/csv", nil
}

func (m *integrationServiceMock) EmitEvent(ctx context.Context, teamID string, req dto.EmitEventRequest) error {
	m.emitted = append(m.emitted, req)
	return nil
}

func testContext(t *testing.T, method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1", TeamID: "team-1"})
	return c, w
}

func TestIntegrationHandlerCreate(t *testing.T) {
	mock := &integrationServiceMock{item: &dto.IntegrationItem{ID: "int-1", TeamID: "team-1", Status: "pending"}}
	h := NewIntegrationHandler(mock)

	c, w := testContext(t, http.MethodPost, "/integrations", dto.CreateIntegrationRequest{
		Name:     "hook",
		Type:     "webhook",
		Provider: "custom",
	})
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), `"int-1"`)
}

func TestIntegrationHandlerCreateRejectsBadJSON(t *testing.T) {
	h := NewIntegrationHandler(&integrationServiceMock{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/integrations", bytes.NewReader([]byte("{not json")))
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1", TeamID: "team-1"})

	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIntegrationHandlerRequiresClaims(t *testing.T) {
	h := NewIntegrationHandler(&integrationServiceMock{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/integrations", nil)
	c.Request = req

	h.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIntegrationHandlerGetNotFound(t *testing.T) {
	h := NewIntegrationHandler(&integrationServiceMock{})

	c, w := testContext(t, http.MethodGet, "/integrations/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestIntegrationHandlerSyncPropagatesError(t *testing.T) {
	mock := &integrationServiceMock{item: &dto.IntegrationItem{ID: "int-1"}}
	mock.syncOp = &models.SyncOperation{ID: "op-1", Type: models.SyncTypeRoster, Status: models.SyncStatusCompleted}
	h := NewIntegrationHandler(mock)

	c, w := testContext(t, http.MethodPost, "/integrations/int-1/sync", dto.SyncRequest{Type: "roster"})
	c.Params = gin.Params{{Key: "id", Value: "int-1"}}

	h.Sync(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"op-1"`)
}

func TestIntegrationHandlerStatsDefaultsWindow(t *testing.T) {
	mock := &integrationServiceMock{item: &dto.IntegrationItem{ID: "int-1"}}
	h := NewIntegrationHandler(mock)

	c, w := testContext(t, http.MethodGet, "/integrations/int-1/stats", nil)
	c.Params = gin.Params{{Key: "id", Value: "int-1"}}

	h.Stats(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"days":7`)
}

func TestIntegrationHandlerStatsIgnoresBadDays(t *testing.T) {
	mock := &integrationServiceMock{item: &dto.IntegrationItem{ID: "int-1"}}
	h := NewIntegrationHandler(mock)

	c, w := testContext(t, http.MethodGet, "/integrations/int-1/stats?days=nope", nil)
	c.Params = gin.Params{{Key: "id", Value: "int-1"}}

	h.Stats(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"days":7`)
}

func TestIntegrationHandlerExportSetsDisposition(t *testing.T) {
	mock := &integrationServiceMock{
		item:      &dto.IntegrationItem{ID: "int-1"},
		exportRaw: []byte("id,event\n"),
	}
	h := NewIntegrationHandler(mock)

	c, w := testContext(t, http.MethodGet, "/integrations/int-1/deliveries/export", nil)
	c.Params = gin.Params{{Key: "id", Value: "int-1"}}

	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "attachment; filename=deliveries.csv", w.Header().Get("Content-Disposition"))
	require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
}

func TestIntegrationHandlerExportUnknownFormat(t *testing.T) {
	mock := &integrationServiceMock{item: &dto.IntegrationItem{ID: "int-1"}}
	h := NewIntegrationHandler(mock)

	c, w := testContext(t, http.MethodGet, "/integrations/int-1/deliveries/export?format=xlsx", nil)
	c.Params = gin.Params{{Key: "id", Value: "int-1"}}

	h.Export(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIntegrationHandlerEmitAccepted(t *testing.T) {
	mock := &integrationServiceMock{}
	h := NewIntegrationHandler(mock)

	c, w := testContext(t, http.MethodPost, "/events", dto.EmitEventRequest{
		Event: "quiz.created",
		Data:  map[string]interface{}{"quizId": "q-1"},
	})

	h.Emit(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, mock.emitted, 1)
	require.Equal(t, "quiz.created", mock.emitted[0].Event)
}
