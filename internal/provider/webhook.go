package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/signature"
)

const maxRetryDelay = 5 * time.Minute

// DeliveryStore persists webhook deliveries and their scheduled retries.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	FindDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	ListDeliveries(ctx context.Context, integrationID string, limit int) ([]models.WebhookDelivery, error)
	DeliveryStats(ctx context.Context, integrationID string, since time.Time) (*models.DeliveryStats, error)
	CreateRetry(ctx context.Context, retry *models.WebhookRetry) error
}

// WebhookDefaults supplies fallbacks for settings the integration config omits.
type WebhookDefaults struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	RateLimit     int
	RateWindow    time.Duration
}

// WebhookManager delivers signed event payloads to one configured endpoint
// with durable retry on failure.
type WebhookManager struct {
	Core

	cfg       models.WebhookConfig
	secret    string
	authValue string
	defaults  WebhookDefaults
	product   string
	client    *http.Client

	deliveries DeliveryStore
}

// NewWebhookManager builds a manager for one webhook integration, decoding
// its config map and opening its credential envelope.
func NewWebhookManager(integration *models.Integration, events EventStore, deliveries DeliveryStore, svc Services, defaults WebhookDefaults, product string) (*WebhookManager, error) {
	cfg, err := models.WebhookConfigFrom(integration.Config)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, NewError(CodeInvalidConfig, "webhook integration has no delivery url")
	}
	core := NewCore(integration, events, svc)
	creds, err := core.DecryptedCredentials()
	if err != nil {
		return nil, err
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.RetryDelaySecs == 0 {
		cfg.RetryDelaySecs = int(defaults.RetryDelay / time.Second)
	}
	if product == "" {
		product = "ExamForge"
	}

	return &WebhookManager{
		Core:       core,
		cfg:        cfg,
		secret:     creds["secret"],
		authValue:  creds["authValue"],
		defaults:   defaults,
		product:    product,
		client:     &http.Client{},
		deliveries: deliveries,
	}, nil
}

// Config exposes the decoded webhook configuration.
func (m *WebhookManager) Config() models.WebhookConfig { return m.cfg }

// Connect probes the endpoint with a synthetic payload and activates the
// integration on success.
func (m *WebhookManager) Connect(ctx context.Context) error {
	if !m.TestConnection(ctx) {
		m.HandleError(ctx, NewError(CodeConnectionFailed, "webhook endpoint rejected test delivery"), "connect")
		return NewError(CodeConnectionFailed, "webhook endpoint rejected test delivery")
	}
	if err := m.UpdateStatus(ctx, models.IntegrationStatusActive); err != nil {
		return err
	}
	m.Events.Log(ctx, "connected", models.EventStatusSuccess, "webhook integration connected", nil, 0)
	return nil
}

// Disconnect deactivates the integration.
func (m *WebhookManager) Disconnect(ctx context.Context) error {
	if err := m.UpdateStatus(ctx, models.IntegrationStatusInactive); err != nil {
		return err
	}
	m.Events.Log(ctx, "disconnected", models.EventStatusInfo, "webhook integration disconnected", nil, 0)
	return nil
}

// TestConnection delivers a synthetic payload in test mode, bypassing the
// event-subscription filter. Errors collapse into false.
func (m *WebhookManager) TestConnection(ctx context.Context) bool {
	payload := &models.WebhookPayload{
		Event:     "quiz.created",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      map[string]interface{}{"test": true},
		Team:      models.WebhookTeam{ID: m.Integration.TeamID},
	}
	return m.Deliver(ctx, payload, true) == nil
}

// Sync is a no-op for webhook integrations; they are push-only.
func (m *WebhookManager) Sync(ctx context.Context, op *models.SyncOperation) *models.SyncOperation {
	op.Complete()
	return op
}

// Deliver signs and sends the payload, recording the delivery. Non-test
// deliveries for unsubscribed events are dropped silently with no record.
// Failures are rethrown to the caller even when a retry has been queued.
func (m *WebhookManager) Deliver(ctx context.Context, payload *models.WebhookPayload, isTest bool) error {
	if !isTest && !m.cfg.Subscribed(payload.Event) {
		return nil
	}

	payload.Signature = ""
	base, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	payload.Signature = m.sign(base)

	delivery := &models.WebhookDelivery{
		ID:            uuid.NewString(),
		IntegrationID: m.Integration.ID,
		Event:         payload.Event,
		Payload:       payloadMap(payload),
		URL:           m.cfg.URL,
		Status:        models.DeliveryStatusPending,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := m.deliveries.CreateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("create delivery record: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal signed payload: %w", err)
	}

	start := time.Now()
	sendErr := m.send(ctx, body, payload.Event, payload.Signature)
	m.observeDelivery(sendErr == nil, time.Since(start))
	if sendErr == nil {
		if err := m.deliveries.MarkDelivered(ctx, delivery.ID); err != nil {
			return err
		}
		m.Events.Log(ctx, "webhook_delivered", models.EventStatusSuccess,
			fmt.Sprintf("delivered %s", payload.Event),
			models.JSONMap{"delivery_id": delivery.ID, "event": payload.Event}, time.Since(start))
		return nil
	}

	if err := m.deliveries.MarkFailed(ctx, delivery.ID, sendErr.Error()); err != nil {
		m.Zap().Sugar().Errorw("failed to mark delivery failed", "delivery_id", delivery.ID, "error", err)
	}
	m.HandleError(ctx, sendErr, "deliver_webhook")
	if m.cfg.RetryAttempts > 0 {
		if err := m.scheduleRetry(ctx, delivery.ID, 1, m.retryDelay(1)); err != nil {
			m.Zap().Sugar().Errorw("failed to schedule retry", "delivery_id", delivery.ID, "error", err)
		}
	}
	return sendErr
}

// RetryDelivery re-drives a previously failed delivery. Deliveries already
// delivered (or gone) are left alone; attempts past the configured cap mark
// the delivery failed for good.
func (m *WebhookManager) RetryDelivery(ctx context.Context, deliveryID string, attempt int) error {
	delivery, err := m.deliveries.FindDelivery(ctx, deliveryID)
	if err != nil || delivery == nil {
		return nil
	}
	if delivery.Status == models.DeliveryStatusDelivered {
		return nil
	}
	if attempt > m.cfg.RetryAttempts {
		if err := m.deliveries.MarkFailed(ctx, deliveryID, "Max retry attempts exceeded"); err != nil {
			return err
		}
		m.Events.Log(ctx, "webhook_retry_exhausted", models.EventStatusError,
			"Max retry attempts exceeded", models.JSONMap{"delivery_id": deliveryID}, 0)
		return nil
	}

	// The stored payload keeps its original signature; content does not
	// change between retries so it is not recomputed. Rebuilding the typed
	// payload keeps the resent bytes identical to the signed original.
	payload, err := models.WebhookPayloadFrom(delivery.Payload)
	if err != nil {
		return fmt.Errorf("decode stored payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stored payload: %w", err)
	}

	start := time.Now()
	sendErr := m.send(ctx, body, delivery.Event, payload.Signature)
	m.observeDelivery(sendErr == nil, time.Since(start))
	if sendErr == nil {
		if err := m.deliveries.MarkDelivered(ctx, deliveryID); err != nil {
			return err
		}
		m.Events.Log(ctx, "webhook_delivered", models.EventStatusSuccess,
			fmt.Sprintf("delivered %s on retry %d", delivery.Event, attempt),
			models.JSONMap{"delivery_id": deliveryID, "attempt": attempt}, time.Since(start))
		return nil
	}

	if err := m.deliveries.MarkFailed(ctx, deliveryID, sendErr.Error()); err != nil {
		m.Zap().Sugar().Errorw("failed to mark delivery failed", "delivery_id", deliveryID, "error", err)
	}
	m.HandleError(ctx, sendErr, "retry_webhook")
	if attempt < m.cfg.RetryAttempts {
		next := attempt + 1
		if err := m.scheduleRetry(ctx, deliveryID, next, m.retryDelay(next)); err != nil {
			m.Zap().Sugar().Errorw("failed to schedule retry", "delivery_id", deliveryID, "error", err)
		}
	}
	return sendErr
}

// DeliveryHistory returns recent deliveries, newest first.
func (m *WebhookManager) DeliveryHistory(ctx context.Context, limit int) ([]models.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.deliveries.ListDeliveries(ctx, m.Integration.ID, limit)
}

// DeliveryStats summarises outcomes over a trailing window of days.
func (m *WebhookManager) DeliveryStats(ctx context.Context, days int) (*models.DeliveryStats, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := m.deliveries.DeliveryStats(ctx, m.Integration.ID, since)
	if err != nil {
		return nil, err
	}
	stats.Days = days
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Delivered) / float64(stats.Total) * 100
	}
	return stats, nil
}

func (m *WebhookManager) send(ctx context.Context, body []byte, event, sig string) error {
	if m.Limiter() != nil && m.defaults.RateLimit > 0 {
		if err := m.Limiter().Wait(ctx, "webhook:"+m.Integration.ID, m.defaults.RateLimit, m.defaults.RateWindow); err != nil {
			return err
		}
	}

	timeout := m.defaults.Timeout
	if m.cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(m.cfg.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", m.product+"-Webhook/1.0")
	req.Header.Set("X-"+m.product+"-Event", event)
	req.Header.Set("X-"+m.product+"-Signature", "sha256="+sig)
	req.Header.Set("X-"+m.product+"-Timestamp", time.Now().UTC().Format(time.RFC3339))
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}
	switch m.cfg.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+m.authValue)
	case "basic":
		req.Header.Set("Authorization", "Basic "+m.authValue)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return NewRetryableError(CodeWebhookHTTPError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return HTTPError(CodeWebhookHTTPError, resp.StatusCode, string(snippet))
	}
	return nil
}

// retryDelay computes exponential backoff with jitter, capped at five minutes.
func (m *WebhookManager) retryDelay(attempt int) time.Duration {
	base := time.Duration(m.cfg.RetryDelaySecs) * time.Second
	if base <= 0 {
		base = m.defaults.RetryDelay
	}
	delay := base << uint(attempt-1)
	delay += time.Duration(rand.Int63n(1000)) * time.Millisecond
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (m *WebhookManager) scheduleRetry(ctx context.Context, deliveryID string, attempt int, delay time.Duration) error {
	retry := &models.WebhookRetry{
		ID:         uuid.NewString(),
		DeliveryID: deliveryID,
		Attempt:    attempt,
		RetryAt:    time.Now().UTC().Add(delay),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.deliveries.CreateRetry(ctx, retry); err != nil {
		return err
	}
	if obs := m.Observer(); obs != nil {
		obs.ObserveRetryScheduled()
	}
	m.Events.Log(ctx, "webhook_retry_scheduled", models.EventStatusWarning,
		fmt.Sprintf("retry %d scheduled for %s", attempt, retry.RetryAt.Format(time.RFC3339)),
		models.JSONMap{"delivery_id": deliveryID, "attempt": attempt}, 0)
	return nil
}

func (m *WebhookManager) sign(payload []byte) string {
	return signature.Sign(payload, m.secret)
}

func (m *WebhookManager) observeDelivery(success bool, duration time.Duration) {
	if obs := m.Observer(); obs != nil {
		obs.ObserveDelivery(success, duration)
	}
}

func payloadMap(payload *models.WebhookPayload) models.JSONMap {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.JSONMap{}
	}
	out := models.JSONMap{}
	_ = json.Unmarshal(data, &out)
	return out
}
