package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
)

// EventRepository persists the append-only integration event log.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// CreateEvent appends one log entry. Entries are never updated or deleted.
func (r *EventRepository) CreateEvent(ctx context.Context, event *models.IntegrationEvent) error {
	const query = `INSERT INTO integration_events (id, integration_id, type, status, message, data, duration_ms, created_at)
VALUES (:id, :integration_id, :type, :status, :message, :data, :duration_ms, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create integration event: %w", err)
	}
	return nil
}

// ListRecentEvents returns the newest entries first, bounded by limit.
func (r *EventRepository) ListRecentEvents(ctx context.Context, integrationID string, limit int) ([]models.IntegrationEvent, error) {
	const query = `SELECT id, integration_id, type, status, message, data, duration_ms, created_at
FROM integration_events WHERE integration_id = $1 ORDER BY created_at DESC LIMIT $2`
	var events []models.IntegrationEvent
	if err := r.db.SelectContext(ctx, &events, query, integrationID, limit); err != nil {
		return nil, fmt.Errorf("list integration events: %w", err)
	}
	return events, nil
}
