package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/splax/localvercel/intake/internal/domain"
)

// Event names published on the failure feed.
const (
	EventCreated = "failure.created"
	EventUpdated = "failure.updated"
)

// Feed publishes failure records to hub subscribers of their project.
type Feed struct {
	hub    *Hub
	logger *slog.Logger
}

// NewFeed wraps hub. A nil hub makes Publish a no-op.
func NewFeed(hub *Hub, logger *slog.Logger) *Feed {
	return &Feed{hub: hub, logger: logger}
}

// Publish broadcasts one event for rec.
func (f *Feed) Publish(event string, rec domain.FailureRecord) {
	if f == nil || f.hub == nil {
		return
	}
	data, err := MarshalEvent(event, rec)
	if err != nil {
		f.logger.Warn("failed to marshal feed event", "event", event, "error_id", rec.ID, "error", err)
		return
	}
	f.hub.Broadcast(rec.ProjectName, data)
}

// Hub returns the underlying hub for HTTP handlers.
func (f *Feed) Hub() *Hub {
	if f == nil {
		return nil
	}
	return f.hub
}

// MarshalEvent formats a feed message.
func MarshalEvent(event string, rec domain.FailureRecord) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":  event,
		"record": rec,
	})
}
