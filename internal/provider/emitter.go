package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
)

// RegistrySource loads the active webhook integrations and resolves team
// display names for outbound payloads.
type RegistrySource interface {
	ListActiveByType(ctx context.Context, integrationType models.IntegrationType) ([]models.Integration, error)
	TeamName(ctx context.Context, teamID string) (string, error)
}

// ManagerFactory builds a WebhookManager for one integration row.
type ManagerFactory func(integration *models.Integration) (*WebhookManager, error)

// Emitter is the process-wide registry of active webhook integrations and
// the sole entry point other subsystems use to trigger outbound
// notifications. In a multi-instance deployment each process holds its own
// registry; add/remove must be propagated or instances restarted.
type Emitter struct {
	mu       sync.RWMutex
	managers map[string]*WebhookManager

	source  RegistrySource
	factory ManagerFactory
	logger  *zap.Logger
}

// NewEmitter constructs an empty registry.
func NewEmitter(source RegistrySource, factory ManagerFactory, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		managers: make(map[string]*WebhookManager),
		source:   source,
		factory:  factory,
		logger:   logger,
	}
}

// Initialize loads every active webhook integration into the registry.
func (e *Emitter) Initialize(ctx context.Context) error {
	integrations, err := e.source.ListActiveByType(ctx, models.IntegrationTypeWebhook)
	if err != nil {
		return err
	}

	managers := make(map[string]*WebhookManager, len(integrations))
	for i := range integrations {
		integration := integrations[i]
		manager, err := e.factory(&integration)
		if err != nil {
			e.logger.Sugar().Errorw("skipping unloadable webhook integration",
				"integration_id", integration.ID, "error", err)
			continue
		}
		managers[integration.ID] = manager
	}

	e.mu.Lock()
	e.managers = managers
	e.mu.Unlock()
	e.logger.Sugar().Infow("webhook registry initialized", "count", len(managers))
	return nil
}

// AddIntegration registers a newly created or reconnected integration.
func (e *Emitter) AddIntegration(integration *models.Integration) error {
	manager, err := e.factory(integration)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.managers[integration.ID] = manager
	e.mu.Unlock()
	return nil
}

// RemoveIntegration drops an integration from the registry.
func (e *Emitter) RemoveIntegration(id string) {
	e.mu.Lock()
	delete(e.managers, id)
	e.mu.Unlock()
}

// Manager returns the registered manager for an integration, if any.
func (e *Emitter) Manager(id string) (*WebhookManager, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	manager, ok := e.managers[id]
	return manager, ok
}

// Emit fans the event out to every subscribed integration of the team.
// Deliveries run concurrently and independently; one failure never blocks
// or fails the others. Individual errors are logged and swallowed here —
// failed deliveries recover through their own retry schedule.
func (e *Emitter) Emit(ctx context.Context, teamID, event string, data map[string]interface{}) {
	teamName, err := e.source.TeamName(ctx, teamID)
	if err != nil {
		e.logger.Sugar().Warnw("emit with unresolved team name", "team_id", teamID, "error", err)
	}

	e.mu.RLock()
	targets := make([]*WebhookManager, 0, len(e.managers))
	for _, manager := range e.managers {
		if manager.Integration.TeamID != teamID {
			continue
		}
		if !manager.Config().Subscribed(event) {
			continue
		}
		targets = append(targets, manager)
	}
	e.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, manager := range targets {
		wg.Add(1)
		go func(m *WebhookManager) {
			defer wg.Done()
			payload := &models.WebhookPayload{
				Event:     event,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Data:      data,
				Team:      models.WebhookTeam{ID: teamID, Name: teamName},
			}
			if err := m.Deliver(ctx, payload, false); err != nil {
				e.logger.Sugar().Warnw("webhook delivery failed",
					"integration_id", m.Integration.ID, "event", event, "error", err)
			}
		}(manager)
	}
	wg.Wait()
}
