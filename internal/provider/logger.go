package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
)

// EventStore persists and queries the append-only integration event log.
type EventStore interface {
	CreateEvent(ctx context.Context, event *models.IntegrationEvent) error
	ListRecentEvents(ctx context.Context, integrationID string, limit int) ([]models.IntegrationEvent, error)
}

// EventLogger writes durable events scoped to one integration, mirroring to
// the zap development sink outside production.
type EventLogger struct {
	integrationID string
	store         EventStore
	zl            *zap.Logger
	devSink       bool
}

// NewEventLogger constructs a logger for one integration.
func NewEventLogger(integrationID string, store EventStore, zl *zap.Logger, devSink bool) *EventLogger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &EventLogger{integrationID: integrationID, store: store, zl: zl, devSink: devSink}
}

// Log appends one event. Persistence failures are reported to zap but do not
// interrupt the calling operation; the event log is advisory.
func (l *EventLogger) Log(ctx context.Context, eventType string, status models.EventStatus, message string, data models.JSONMap, duration time.Duration) {
	event := &models.IntegrationEvent{
		ID:            uuid.NewString(),
		IntegrationID: l.integrationID,
		Type:          eventType,
		Status:        status,
		Message:       message,
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	}
	if duration > 0 {
		ms := duration.Milliseconds()
		event.DurationMS = &ms
	}

	if err := l.store.CreateEvent(ctx, event); err != nil {
		l.zl.Sugar().Errorw("failed to persist integration event",
			"integration_id", l.integrationID, "type", eventType, "error", err)
		return
	}

	if l.devSink {
		l.zl.Sugar().Debugw("integration event",
			"integration_id", l.integrationID, "type", eventType, "status", status, "message", message)
	}
}

// Events returns the most recent entries, newest first.
func (l *EventLogger) Events(ctx context.Context, limit int) ([]models.IntegrationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListRecentEvents(ctx, l.integrationID, limit)
}
