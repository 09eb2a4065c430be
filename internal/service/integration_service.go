package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/dto"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/provider"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/crypto"
	appErrors "github.com/natsumeaurlia/exam-forge-integrations/pkg/errors"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/export"
)

// integrationRepository is the persistence surface the service needs.
type integrationRepository interface {
	Create(ctx context.Context, integration *models.Integration) error
	FindByID(ctx context.Context, id string) (*models.Integration, error)
	ListByTeam(ctx context.Context, teamID string) ([]models.Integration, error)
	Delete(ctx context.Context, id string) error
}

type eventReader interface {
	ListRecentEvents(ctx context.Context, integrationID string, limit int) ([]models.IntegrationEvent, error)
}

type statsCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// webhookRegistry keeps the in-process emitter in step with lifecycle
// changes made through the API.
type webhookRegistry interface {
	AddIntegration(integration *models.Integration) error
	RemoveIntegration(id string)
	Emit(ctx context.Context, teamID, event string, data map[string]interface{})
}

// ProviderFactory builds the concrete provider for an integration row.
type ProviderFactory func(integration *models.Integration) (provider.Provider, error)

// IntegrationService owns the integration lifecycle: registration,
// connection management, sync triggering and delivery reporting.
type IntegrationService struct {
	integrations integrationRepository
	events       eventReader
	cache        statsCache
	vault        *crypto.Vault
	registry     webhookRegistry
	providers    ProviderFactory
	managers     provider.ManagerFactory
	metrics      *MetricsService
	statsTTL     time.Duration
	validate     *validator.Validate
	logger       *zap.Logger

	csv *export.CSVExporter
	pdf *export.PDFExporter
}

// IntegrationServiceDeps bundles the service collaborators.
type IntegrationServiceDeps struct {
	Integrations integrationRepository
	Events       eventReader
	Cache        statsCache
	Vault        *crypto.Vault
	Registry     webhookRegistry
	Providers    ProviderFactory
	Managers     provider.ManagerFactory
	Metrics      *MetricsService
	StatsTTL     time.Duration
	Logger       *zap.Logger
}

// NewIntegrationService constructs the service.
func NewIntegrationService(deps IntegrationServiceDeps) *IntegrationService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.StatsTTL <= 0 {
		deps.StatsTTL = time.Minute
	}
	return &IntegrationService{
		integrations: deps.Integrations,
		events:       deps.Events,
		cache:        deps.Cache,
		vault:        deps.Vault,
		registry:     deps.Registry,
		providers:    deps.Providers,
		managers:     deps.Managers,
		metrics:      deps.Metrics,
		statsTTL:     deps.StatsTTL,
		validate:     validator.New(),
		logger:       deps.Logger,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
	}
}

// Create registers a new integration in pending state. Credentials are
// sealed into the vault envelope before the row is written.
func (s *IntegrationService) Create(ctx context.Context, teamID string, req dto.CreateIntegrationRequest) (*dto.IntegrationItem, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid integration request")
	}

	integrationType := models.IntegrationType(req.Type)
	config := models.JSONMap(req.Config)
	if err := provider.ValidateConfig(integrationType, config); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	envelope := ""
	if len(req.Credentials) > 0 {
		var err error
		envelope, err = s.vault.EncryptMap(req.Credentials)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seal credentials")
		}
	}

	now := time.Now().UTC()
	integration := &models.Integration{
		ID:          uuid.NewString(),
		TeamID:      teamID,
		Name:        req.Name,
		Type:        integrationType,
		Provider:    req.Provider,
		Status:      models.IntegrationStatusPending,
		Credentials: envelope,
		Config:      config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.integrations.Create(ctx, integration); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create integration")
	}

	s.logger.Info("integration created",
		zap.String("integration_id", integration.ID),
		zap.String("team_id", teamID),
		zap.String("type", req.Type),
		zap.String("provider", req.Provider))

	return toIntegrationItem(integration), nil
}

// Get returns one integration owned by the team.
func (s *IntegrationService) Get(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error) {
	integration, err := s.find(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	return toIntegrationItem(integration), nil
}

// List returns every integration registered by the team.
func (s *IntegrationService) List(ctx context.Context, teamID string) ([]dto.IntegrationItem, error) {
	integrations, err := s.integrations.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list integrations")
	}
	items := make([]dto.IntegrationItem, 0, len(integrations))
	for i := range integrations {
		items = append(items, *toIntegrationItem(&integrations[i]))
	}
	return items, nil
}

// Delete removes the integration and drops it from the emitter registry.
func (s *IntegrationService) Delete(ctx context.Context, teamID, id string) error {
	integration, err := s.find(ctx, teamID, id)
	if err != nil {
		return err
	}
	if integration.Type == models.IntegrationTypeWebhook {
		s.registry.RemoveIntegration(integration.ID)
	}
	if err := s.integrations.Delete(ctx, integration.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete integration")
	}
	s.logger.Info("integration deleted", zap.String("integration_id", id), zap.String("team_id", teamID))
	return nil
}

// Connect establishes the external connection and activates the
// integration. Active webhooks are also registered on the emitter.
func (s *IntegrationService) Connect(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error) {
	integration, err := s.find(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	p, err := s.providers(integration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnsupportedProvider.Code, appErrors.ErrUnsupportedProvider.Status, err.Error())
	}
	if err := p.Connect(ctx); err != nil {
		return nil, appErrors.Wrap(err, "CONNECTION_FAILED", http.StatusBadGateway, "provider connection failed")
	}
	if integration.Type == models.IntegrationTypeWebhook {
		if err := s.registry.AddIntegration(integration); err != nil {
			s.logger.Warn("failed to register webhook on emitter", zap.String("integration_id", id), zap.Error(err))
		}
	}
	// Reload to pick up the status written during Connect.
	return s.Get(ctx, teamID, id)
}

// Disconnect deactivates the integration.
func (s *IntegrationService) Disconnect(ctx context.Context, teamID, id string) (*dto.IntegrationItem, error) {
	integration, err := s.find(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	p, err := s.providers(integration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnsupportedProvider.Code, appErrors.ErrUnsupportedProvider.Status, err.Error())
	}
	if err := p.Disconnect(ctx); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to disconnect integration")
	}
	if integration.Type == models.IntegrationTypeWebhook {
		s.registry.RemoveIntegration(integration.ID)
	}
	return s.Get(ctx, teamID, id)
}

// Test probes the external connection without changing integration state.
func (s *IntegrationService) Test(ctx context.Context, teamID, id string) (*dto.ConnectionTestResult, error) {
	integration, err := s.find(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	p, err := s.providers(integration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnsupportedProvider.Code, appErrors.ErrUnsupportedProvider.Status, err.Error())
	}
	healthy := p.TestConnection(ctx)
	return &dto.ConnectionTestResult{Healthy: healthy, Status: string(integration.Status)}, nil
}

// Sync runs one synchronous sync pass for an LMS integration. Per-record
// failures are reported inside the returned operation, not as an error.
func (s *IntegrationService) Sync(ctx context.Context, teamID, id string, req dto.SyncRequest) (*models.SyncOperation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sync request")
	}
	integration, err := s.find(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	if integration.Type != models.IntegrationTypeLMS {
		return nil, appErrors.New(appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "sync is only supported for lms integrations")
	}
	p, err := s.providers(integration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnsupportedProvider.Code, appErrors.ErrUnsupportedProvider.Status, err.Error())
	}

	op := &models.SyncOperation{
		ID:        uuid.NewString(),
		Type:      models.SyncType(req.Type),
		Status:    models.SyncStatusPending,
		StartedAt: time.Now().UTC(),
	}
	result := p.Sync(ctx, op)
	if s.metrics != nil {
		s.metrics.ObserveSync(string(result.Type), string(result.Status),
			result.RecordsSucceeded, result.RecordsFailed, time.Since(result.StartedAt))
	}
	return result, nil
}

// Events returns the integration's recent activity log.
func (s *IntegrationService) Events(ctx context.Context, teamID, id string, limit int) ([]models.IntegrationEvent, error) {
	if _, err := s.find(ctx, teamID, id); err != nil {
		return nil, err
	}
	events, err := s.events.ListRecentEvents(ctx, id, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	return events, nil
}

// Deliveries returns the webhook delivery history, newest first.
func (s *IntegrationService) Deliveries(ctx context.Context, teamID, id string, limit int) ([]models.WebhookDelivery, error) {
	manager, err := s.manager(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	deliveries, err := manager.DeliveryHistory(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deliveries")
	}
	return deliveries, nil
}

// DeliveryStats returns delivery aggregates over a trailing window, served
// from cache when fresh.
func (s *IntegrationService) DeliveryStats(ctx context.Context, teamID, id string, days int) (*models.DeliveryStats, error) {
	manager, err := s.manager(ctx, teamID, id)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("integrations:stats:%s:%d", id, days)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Warn("stats cache read failed", zap.String("integration_id", id), zap.Error(err))
		} else if cached != "" {
			var stats models.DeliveryStats
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				return &stats, nil
			}
		}
	}

	stats, err := manager.DeliveryStats(ctx, days)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute delivery stats")
	}

	if s.cache != nil {
		if raw, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, key, string(raw), s.statsTTL); err != nil {
				s.logger.Warn("stats cache write failed", zap.String("integration_id", id), zap.Error(err))
			}
		}
	}
	return stats, nil
}

// ExportDeliveries renders the delivery history as CSV or PDF. The second
// return value is the content type.
func (s *IntegrationService) ExportDeliveries(ctx context.Context, teamID, id, format string, limit int) ([]byte, string, error) {
	integration, err := s.find(ctx, teamID, id)
	if err != nil {
		return nil, "", err
	}
	deliveries, err := s.Deliveries(ctx, teamID, id, limit)
	if err != nil {
		return nil, "", err
	}

	data := export.Dataset{
		Headers: []string{"id", "event", "status", "error", "created_at", "delivered_at"},
		Rows:    make([]map[string]string, 0, len(deliveries)),
	}
	for i := range deliveries {
		d := &deliveries[i]
		row := map[string]string{
			"id":           d.ID,
			"event":        d.Event,
			"status":       string(d.Status),
			"error":        "",
			"created_at":   d.CreatedAt.UTC().Format(time.RFC3339),
			"delivered_at": "",
		}
		if d.Error != nil {
			row["error"] = *d.Error
		}
		if d.DeliveredAt != nil {
			row["delivered_at"] = d.DeliveredAt.UTC().Format(time.RFC3339)
		}
		data.Rows = append(data.Rows, row)
	}

	switch format {
	case "csv":
		raw, err := s.csv.Render(data)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return raw, "text/csv", nil
	case "pdf":
		raw, err := s.pdf.Render(data, fmt.Sprintf("%s webhook deliveries", integration.Name))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return raw, "application/pdf", nil
	default:
		return nil, "", appErrors.New(appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}
}

// EmitEvent fans an application event out to the team's subscribed
// webhooks. Delivery failures are isolated per endpoint and never surface
// to the caller.
func (s *IntegrationService) EmitEvent(ctx context.Context, teamID string, req dto.EmitEventRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event request")
	}
	s.registry.Emit(ctx, teamID, req.Event, req.Data)
	return nil
}

// find loads the integration and enforces team ownership. Cross-team rows
// read as not found so ids cannot be probed.
func (s *IntegrationService) find(ctx context.Context, teamID, id string) (*models.Integration, error) {
	integration, err := s.integrations.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load integration")
	}
	if integration == nil || integration.TeamID != teamID {
		return nil, appErrors.ErrNotFound
	}
	return integration, nil
}

// manager resolves a webhook manager for delivery reporting.
func (s *IntegrationService) manager(ctx context.Context, teamID, id string) (*provider.WebhookManager, error) {
	integration, err := s.find(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	if integration.Type != models.IntegrationTypeWebhook {
		return nil, appErrors.New(appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "deliveries are only available for webhook integrations")
	}
	manager, err := s.managers(integration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load webhook manager")
	}
	return manager, nil
}

func toIntegrationItem(integration *models.Integration) *dto.IntegrationItem {
	return &dto.IntegrationItem{
		ID:         integration.ID,
		TeamID:     integration.TeamID,
		Name:       integration.Name,
		Type:       string(integration.Type),
		Provider:   integration.Provider,
		Status:     string(integration.Status),
		Config:     map[string]interface{}(integration.Config),
		LastSyncAt: integration.LastSyncAt,
		CreatedAt:  integration.CreatedAt,
		UpdatedAt:  integration.UpdatedAt,
	}
}
