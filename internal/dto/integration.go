package dto

import "time"

// CreateIntegrationRequest creates a new integration for the caller's team.
type CreateIntegrationRequest struct {
	Name        string                 `json:"name" validate:"required,min=1,max=120"`
	Type        string                 `json:"type" validate:"required,oneof=lms webhook sso ai"`
	Provider    string                 `json:"provider" validate:"required,min=1,max=60"`
	Config      map[string]interface{} `json:"config"`
	Credentials map[string]string      `json:"credentials"`
}

// SyncRequest triggers one sync pass.
type SyncRequest struct {
	Type string `json:"type" validate:"required,oneof=roster courses assignments grades"`
}

// EmitEventRequest fans an event out to the team's subscribed webhooks.
type EmitEventRequest struct {
	Event string                 `json:"event" validate:"required,min=1,max=120"`
	Data  map[string]interface{} `json:"data"`
}

// IntegrationItem is the API view of an integration; credentials never leave
// the server.
type IntegrationItem struct {
	ID         string                 `json:"id"`
	TeamID     string                 `json:"team_id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Provider   string                 `json:"provider"`
	Status     string                 `json:"status"`
	Config     map[string]interface{} `json:"config"`
	LastSyncAt *time.Time             `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// ConnectionTestResult reports a connectivity probe outcome.
type ConnectionTestResult struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status"`
}
