// Package notify delivers user notifications to the notification service.
package notify

import (
	"context"
	"time"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	TypeFileShared  NotificationType = "FILE_SHARED"
	TypeFileDeleted NotificationType = "FILE_DELETED"
	TypeVideoCall   NotificationType = "VIDEO_CALL"
)

// Notification is one record addressed to one user.
type Notification struct {
	Type         NotificationType  `json:"type"`
	ActorID      string            `json:"actorId,omitempty"`
	TargetUserID string            `json:"targetUserId"`
	ResourceType string            `json:"resourceType"`
	ResourceID   string            `json:"resourceId"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   string            `json:"occurredAt,omitempty"`
}

// BulkRequest is the body accepted by the bulk endpoint and published on the exchange.
type BulkRequest struct {
	Notifications []Notification `json:"notifications"`
}

// Sink accepts bulk notification records.
type Sink interface {
	SendBulk(ctx context.Context, notifications []Notification) error
}

// NopSink drops every notification.
type NopSink struct{}

func (NopSink) SendBulk(context.Context, []Notification) error { return nil }

func stamp(notifications []Notification) {
	now := time.Now().UTC().Format(time.RFC3339)
	for i := range notifications {
		if notifications[i].OccurredAt == "" {
			notifications[i].OccurredAt = now
		}
	}
}
