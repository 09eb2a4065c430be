package models

import "time"

// IntegrationType enumerates supported integration categories.
type IntegrationType string

const (
	IntegrationTypeLMS     IntegrationType = "lms"
	IntegrationTypeWebhook IntegrationType = "webhook"
	IntegrationTypeSSO     IntegrationType = "sso"
	IntegrationTypeAI      IntegrationType = "ai"
)

// IntegrationStatus captures connection lifecycle state. Transitions are
// driven only by connect/disconnect/error-detection logic.
type IntegrationStatus string

const (
	IntegrationStatusPending  IntegrationStatus = "pending"
	IntegrationStatusActive   IntegrationStatus = "active"
	IntegrationStatusError    IntegrationStatus = "error"
	IntegrationStatusInactive IntegrationStatus = "inactive"
)

// Integration is one configured connection from a team to an external system.
// Credentials hold the encrypted envelope produced by the credential vault;
// the plaintext map never touches the database.
type Integration struct {
	ID          string            `db:"id" json:"id"`
	TeamID      string            `db:"team_id" json:"team_id"`
	Name        string            `db:"name" json:"name"`
	Type        IntegrationType   `db:"type" json:"type"`
	Provider    string            `db:"provider" json:"provider"`
	Status      IntegrationStatus `db:"status" json:"status"`
	Credentials string            `db:"credentials" json:"-"`
	Config      JSONMap           `db:"config" json:"config"`
	LastSyncAt  *time.Time        `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// EventStatus classifies integration log entries.
type EventStatus string

const (
	EventStatusInfo    EventStatus = "info"
	EventStatusSuccess EventStatus = "success"
	EventStatusWarning EventStatus = "warning"
	EventStatusError   EventStatus = "error"
)

// IntegrationEvent is an append-only log entry; immutable once written.
type IntegrationEvent struct {
	ID            string      `db:"id" json:"id"`
	IntegrationID string      `db:"integration_id" json:"integration_id"`
	Type          string      `db:"type" json:"type"`
	Status        EventStatus `db:"status" json:"status"`
	Message       string      `db:"message" json:"message"`
	Data          JSONMap     `db:"data" json:"data,omitempty"`
	DurationMS    *int64      `db:"duration_ms" json:"duration_ms,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}
