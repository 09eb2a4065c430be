package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
)

// DeliveryRepository persists webhook deliveries and their scheduled retries.
type DeliveryRepository struct {
	db *sqlx.DB
}

// NewDeliveryRepository constructs the repository.
func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// CreateDelivery inserts a new pending delivery.
func (r *DeliveryRepository) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	const query = `INSERT INTO webhook_deliveries (id, integration_id, event, payload, url, status, error, created_at, updated_at)
VALUES (:id, :integration_id, :event, :payload, :url, :status, :error, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, delivery); err != nil {
		return fmt.Errorf("create webhook delivery: %w", err)
	}
	return nil
}

// FindDelivery fetches one delivery; missing rows return (nil, nil) so retry
// handling can treat them as a no-op.
func (r *DeliveryRepository) FindDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	const query = `SELECT id, integration_id, event, payload, url, status, error, created_at, delivered_at, updated_at
FROM webhook_deliveries WHERE id = $1`
	var delivery models.WebhookDelivery
	if err := r.db.GetContext(ctx, &delivery, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find webhook delivery: %w", err)
	}
	return &delivery, nil
}

// MarkDelivered flips a delivery to delivered and stamps delivery time.
func (r *DeliveryRepository) MarkDelivered(ctx context.Context, id string) error {
	const query = `UPDATE webhook_deliveries SET status = $1, error = NULL, delivered_at = $2, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, models.DeliveryStatusDelivered, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark delivery delivered: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt with its error string.
func (r *DeliveryRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	const query = `UPDATE webhook_deliveries SET status = $1, error = $2, updated_at = $3 WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, models.DeliveryStatusFailed, errMsg, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

// ListDeliveries returns recent deliveries for one integration, newest first.
func (r *DeliveryRepository) ListDeliveries(ctx context.Context, integrationID string, limit int) ([]models.WebhookDelivery, error) {
	const query = `SELECT id, integration_id, event, payload, url, status, error, created_at, delivered_at, updated_at
FROM webhook_deliveries WHERE integration_id = $1 ORDER BY created_at DESC LIMIT $2`
	var deliveries []models.WebhookDelivery
	if err := r.db.SelectContext(ctx, &deliveries, query, integrationID, limit); err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	return deliveries, nil
}

// DeliveryStats aggregates outcomes since the given time.
func (r *DeliveryRepository) DeliveryStats(ctx context.Context, integrationID string, since time.Time) (*models.DeliveryStats, error) {
	const query = `SELECT
COUNT(*) AS total,
COUNT(*) FILTER (WHERE status = 'delivered') AS delivered,
COUNT(*) FILTER (WHERE status = 'failed') AS failed,
COUNT(*) FILTER (WHERE status = 'pending') AS pending
FROM webhook_deliveries WHERE integration_id = $1 AND created_at >= $2`
	var stats models.DeliveryStats
	if err := r.db.GetContext(ctx, &stats, query, integrationID, since); err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	return &stats, nil
}

// CreateRetry persists a durable retry schedule entry.
func (r *DeliveryRepository) CreateRetry(ctx context.Context, retry *models.WebhookRetry) error {
	const query = `INSERT INTO webhook_retries (id, delivery_id, attempt, retry_at, created_at)
VALUES (:id, :delivery_id, :attempt, :retry_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, retry); err != nil {
		return fmt.Errorf("create webhook retry: %w", err)
	}
	return nil
}

// DueRetries claims up to limit unprocessed retries whose schedule has
// elapsed, stamping processed_at so concurrent pollers cannot double-fire.
func (r *DeliveryRepository) DueRetries(ctx context.Context, now time.Time, limit int) ([]models.WebhookRetry, error) {
	const query = `UPDATE webhook_retries SET processed_at = $1
WHERE id IN (
    SELECT id FROM webhook_retries
    WHERE processed_at IS NULL AND retry_at <= $1
    ORDER BY retry_at ASC LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING id, delivery_id, attempt, retry_at, processed_at, created_at`
	var retries []models.WebhookRetry
	if err := r.db.SelectContext(ctx, &retries, query, now, limit); err != nil {
		return nil, fmt.Errorf("claim due retries: %w", err)
	}
	return retries, nil
}

// IntegrationIDForDelivery resolves the owning integration of a delivery.
func (r *DeliveryRepository) IntegrationIDForDelivery(ctx context.Context, deliveryID string) (string, error) {
	const query = `SELECT integration_id FROM webhook_deliveries WHERE id = $1`
	var id string
	if err := r.db.GetContext(ctx, &id, query, deliveryID); err != nil {
		return "", fmt.Errorf("resolve delivery integration: %w", err)
	}
	return id, nil
}
