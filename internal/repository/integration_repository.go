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

// IntegrationRepository persists integration records.
type IntegrationRepository struct {
	db *sqlx.DB
}

// NewIntegrationRepository constructs the repository.
func NewIntegrationRepository(db *sqlx.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// Create inserts a new integration.
func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	const query = `INSERT INTO integrations (id, team_id, name, type, provider, status, credentials, config, created_at, updated_at)
VALUES (:id, :team_id, :name, :type, :provider, :status, :credentials, :config, :created_at, :updated_at)`
	now := time.Now().UTC()
	integration.CreatedAt = now
	integration.UpdatedAt = now
	if _, err := r.db.NamedExecContext(ctx, query, integration); err != nil {
		return fmt.Errorf("create integration: %w", err)
	}
	return nil
}

// FindByID fetches one integration.
func (r *IntegrationRepository) FindByID(ctx context.Context, id string) (*models.Integration, error) {
	const query = `SELECT id, team_id, name, type, provider, status, credentials, config, last_sync_at, created_at, updated_at
FROM integrations WHERE id = $1`
	var integration models.Integration
	if err := r.db.GetContext(ctx, &integration, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &integration, nil
}

// ListByTeam returns a team's integrations, newest first.
func (r *IntegrationRepository) ListByTeam(ctx context.Context, teamID string) ([]models.Integration, error) {
	const query = `SELECT id, team_id, name, type, provider, status, credentials, config, last_sync_at, created_at, updated_at
FROM integrations WHERE team_id = $1 ORDER BY created_at DESC`
	var integrations []models.Integration
	if err := r.db.SelectContext(ctx, &integrations, query, teamID); err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	return integrations, nil
}

// ListActiveByType returns every active integration of the given type across
// all teams; the webhook registry loads from this at startup.
func (r *IntegrationRepository) ListActiveByType(ctx context.Context, integrationType models.IntegrationType) ([]models.Integration, error) {
	const query = `SELECT id, team_id, name, type, provider, status, credentials, config, last_sync_at, created_at, updated_at
FROM integrations WHERE type = $1 AND status = $2 ORDER BY created_at ASC`
	var integrations []models.Integration
	if err := r.db.SelectContext(ctx, &integrations, query, integrationType, models.IntegrationStatusActive); err != nil {
		return nil, fmt.Errorf("list active integrations: %w", err)
	}
	return integrations, nil
}

// UpdateStatus persists a lifecycle transition.
func (r *IntegrationRepository) UpdateStatus(ctx context.Context, id string, status models.IntegrationStatus) error {
	const query = `UPDATE integrations SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update integration status: %w", err)
	}
	return nil
}

// UpdateLastSync stamps the last successful sync time.
func (r *IntegrationRepository) UpdateLastSync(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE integrations SET last_sync_at = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, at, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update integration last sync: %w", err)
	}
	return nil
}

// UpdateCredentials replaces the encrypted credential envelope.
func (r *IntegrationRepository) UpdateCredentials(ctx context.Context, id string, envelope string) error {
	const query = `UPDATE integrations SET credentials = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, envelope, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update integration credentials: %w", err)
	}
	return nil
}

// Delete removes an integration; deliveries/events/retries cascade in the
// schema.
func (r *IntegrationRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM integrations WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	return nil
}

// TeamName resolves a team's display name for outbound payloads.
func (r *IntegrationRepository) TeamName(ctx context.Context, teamID string) (string, error) {
	const query = `SELECT name FROM teams WHERE id = $1`
	var name string
	if err := r.db.GetContext(ctx, &name, query, teamID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return name, nil
}
