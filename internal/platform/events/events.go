// Package events fans audit activity out to external subscribers.
package events

import (
	"context"
	"strings"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// Publisher delivers activity entries to a broker.
type Publisher interface {
	Publish(ctx context.Context, entry domain.ActivityEntry) error
	Close() error
}

// Message is the JSON payload shared by every broker.
type Message struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	Entity      string         `json:"entity"`
	EntityID    string         `json:"entityId"`
	Description string         `json:"description"`
	ActorID     string         `json:"actorId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// NewMessage converts an activity entry into its wire form.
func NewMessage(entry domain.ActivityEntry) Message {
	return Message{
		ID:          entry.ID,
		Action:      string(entry.Action),
		Entity:      entry.Entity,
		EntityID:    entry.EntityID,
		Description: entry.Description,
		ActorID:     entry.ActorID,
		Metadata:    entry.Metadata,
		OccurredAt:  entry.OccurredAt.UTC(),
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, domain.ActivityEntry) error { return nil }
func (Nop) Close() error                                        { return nil }

func attributes(entry domain.ActivityEntry) map[string]string {
	attrs := make(map[string]string, 4)
	setAttr(attrs, "action", string(entry.Action))
	setAttr(attrs, "entity", entry.Entity)
	setAttr(attrs, "entityId", entry.EntityID)
	setAttr(attrs, "actorId", entry.ActorID)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
