package provider

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/crypto"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/ratelimit"
)

// Provider is the lifecycle contract every external-system connector
// implements.
type Provider interface {
	// Connect establishes and verifies connectivity, ending in status
	// active on success. It never panics on remote failures; they come
	// back as errors.
	Connect(ctx context.Context) error
	// Disconnect tears down and sets status inactive.
	Disconnect(ctx context.Context) error
	// TestConnection is a side-effect-free connectivity probe.
	TestConnection(ctx context.Context) bool
	// Sync performs one sync pass. Failures are reported on the returned
	// operation, never as an error value.
	Sync(ctx context.Context, op *models.SyncOperation) *models.SyncOperation
}

// IntegrationStore is the persistence surface the core needs for lifecycle
// transitions. Every status write goes straight through; no write-behind.
type IntegrationStore interface {
	UpdateStatus(ctx context.Context, id string, status models.IntegrationStatus) error
	UpdateLastSync(ctx context.Context, id string, at time.Time) error
	UpdateCredentials(ctx context.Context, id string, envelope string) error
}

// DeliveryObserver receives webhook delivery outcomes for instrumentation.
// A nil observer disables reporting.
type DeliveryObserver interface {
	ObserveDelivery(success bool, duration time.Duration)
	ObserveRetryScheduled()
}

// Services bundles the cross-cutting collaborators injected into every
// concrete provider.
type Services struct {
	Integrations IntegrationStore
	Vault        *crypto.Vault
	Limiter      *ratelimit.Limiter
	Observer     DeliveryObserver
	Logger       *zap.Logger
	DevSink      bool
}

// authFailurePatterns are the substrings handleError scans for to decide
// "this is a credential problem". Case-insensitive.
var authFailurePatterns = []string{
	"unauthorized",
	"invalid_token",
	"expired_token",
	"authentication failed",
	"access denied",
}

// Core supplies the shared lifecycle services concrete providers embed.
type Core struct {
	Integration *models.Integration
	Events      *EventLogger
	svc         Services
}

// NewCore wires the shared services for one integration.
func NewCore(integration *models.Integration, events EventStore, svc Services) Core {
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	return Core{
		Integration: integration,
		Events:      NewEventLogger(integration.ID, events, svc.Logger, svc.DevSink),
		svc:         svc,
	}
}

// Limiter exposes the shared rate limiter.
func (c *Core) Limiter() *ratelimit.Limiter { return c.svc.Limiter }

// Observer exposes the delivery metrics observer, possibly nil.
func (c *Core) Observer() DeliveryObserver { return c.svc.Observer }

// Zap exposes the process logger.
func (c *Core) Zap() *zap.Logger { return c.svc.Logger }

// UpdateStatus persists the new status. Persistence failures propagate; a
// silently stale status would defeat the state machine.
func (c *Core) UpdateStatus(ctx context.Context, status models.IntegrationStatus) error {
	if err := c.svc.Integrations.UpdateStatus(ctx, c.Integration.ID, status); err != nil {
		return err
	}
	c.Integration.Status = status
	c.Integration.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateLastSync stamps lastSyncAt = now.
func (c *Core) UpdateLastSync(ctx context.Context) error {
	now := time.Now().UTC()
	if err := c.svc.Integrations.UpdateLastSync(ctx, c.Integration.ID, now); err != nil {
		return err
	}
	c.Integration.LastSyncAt = &now
	return nil
}

// UpdateCredentials seals the plaintext map and persists the envelope.
func (c *Core) UpdateCredentials(ctx context.Context, creds map[string]string) error {
	envelope, err := c.svc.Vault.EncryptMap(creds)
	if err != nil {
		return err
	}
	if err := c.svc.Integrations.UpdateCredentials(ctx, c.Integration.ID, envelope); err != nil {
		return err
	}
	c.Integration.Credentials = envelope
	return nil
}

// DecryptedCredentials opens the stored envelope.
func (c *Core) DecryptedCredentials() (map[string]string, error) {
	return c.svc.Vault.DecryptMap(c.Integration.Credentials)
}

// ValidateConnection is the mandatory pre-flight for every sync/delivery
// operation: the integration must be active and the probe must pass. A
// failing probe transitions the integration to error.
func (c *Core) ValidateConnection(ctx context.Context, p Provider) error {
	if c.Integration.Status != models.IntegrationStatusActive {
		return NewError(CodeInactiveIntegration, "integration is not active")
	}
	if !p.TestConnection(ctx) {
		if err := c.UpdateStatus(ctx, models.IntegrationStatusError); err != nil {
			return err
		}
		return NewError(CodeConnectionFailed, "integration connection test failed")
	}
	return nil
}

// HandleError logs the failure and, when the message matches an auth-failure
// pattern, forces status to error and records a distinct auth_failed event.
// This is the single place that decides whether an error is a credential
// problem.
func (c *Core) HandleError(ctx context.Context, err error, operation string) {
	if err == nil {
		return
	}
	data := models.JSONMap{"error": err.Error()}
	if operation != "" {
		data["operation"] = operation
	}
	c.Events.Log(ctx, "error", models.EventStatusError, err.Error(), data, 0)

	if !isAuthFailure(err) {
		return
	}
	if statusErr := c.UpdateStatus(ctx, models.IntegrationStatusError); statusErr != nil {
		c.svc.Logger.Sugar().Errorw("failed to mark integration errored",
			"integration_id", c.Integration.ID, "error", statusErr)
	}
	c.Events.Log(ctx, "auth_failed", models.EventStatusError,
		"authentication failure detected, credentials need attention", data, 0)
}

func isAuthFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range authFailurePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
