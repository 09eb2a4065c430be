package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeliveryStatus tracks webhook delivery lifecycle.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// WebhookDelivery is one emit attempt. Retries mutate this record's status
// and spawn WebhookRetry rows; they never create a second delivery.
type WebhookDelivery struct {
	ID            string         `db:"id" json:"id"`
	IntegrationID string         `db:"integration_id" json:"integration_id"`
	Event         string         `db:"event" json:"event"`
	Payload       JSONMap        `db:"payload" json:"payload"`
	URL           string         `db:"url" json:"url"`
	Status        DeliveryStatus `db:"status" json:"status"`
	Error         *string        `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	DeliveredAt   *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// WebhookRetry is a durable scheduled retry. The polling worker claims a row
// by stamping ProcessedAt before re-driving the delivery.
type WebhookRetry struct {
	ID          string     `db:"id" json:"id"`
	DeliveryID  string     `db:"delivery_id" json:"delivery_id"`
	Attempt     int        `db:"attempt" json:"attempt"`
	RetryAt     time.Time  `db:"retry_at" json:"retry_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// WebhookTeam identifies the owning team on the wire.
type WebhookTeam struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WebhookPayload is the wire value POSTed to consumers. The signature is
// computed over the JSON serialization before Signature is set.
type WebhookPayload struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Team      WebhookTeam            `json:"team"`
	Signature string                 `json:"signature,omitempty"`
}

// DeliveryStats summarises deliveries over a trailing window.
type DeliveryStats struct {
	Total       int     `json:"total" db:"total"`
	Delivered   int     `json:"delivered" db:"delivered"`
	Failed      int     `json:"failed" db:"failed"`
	Pending     int     `json:"pending" db:"pending"`
	SuccessRate float64 `json:"success_rate"`
	Days        int     `json:"days"`
}

// WebhookConfig is the typed view of a webhook integration's config map.
type WebhookConfig struct {
	URL            string            `json:"url"`
	Events         []string          `json:"events"`
	Headers        map[string]string `json:"headers,omitempty"`
	AuthType       string            `json:"authType,omitempty"`
	TimeoutSeconds int               `json:"timeout,omitempty"`
	RetryAttempts  int               `json:"retryAttempts,omitempty"`
	RetryDelaySecs int               `json:"retryDelay,omitempty"`
}

// Subscribed reports whether the integration listens for the event.
func (c WebhookConfig) Subscribed(event string) bool {
	for _, e := range c.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookPayloadFrom rebuilds the typed wire payload from a stored
// delivery row. Serializing the typed shape keeps retried request bytes
// identical to the originally signed body.
func WebhookPayloadFrom(m JSONMap) (*WebhookPayload, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal stored payload: %w", err)
	}
	var payload WebhookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	return &payload, nil
}

// WebhookConfigFrom decodes the integration config map into its typed shape.
func WebhookConfigFrom(m JSONMap) (WebhookConfig, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("marshal webhook config: %w", err)
	}
	var cfg WebhookConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return WebhookConfig{}, fmt.Errorf("decode webhook config: %w", err)
	}
	return cfg, nil
}
