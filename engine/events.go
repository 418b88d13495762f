package engine

import "ubcore/lifecycle"

// Event types match the protocol message types for the same change.
const (
	EventEntityCreated      EventType = "entity.created"
	EventEntityTransitioned EventType = "entity.transitioned"
	EventEntityDeleted      EventType = "entity.deleted"
	EventCascadeApplied     EventType = "cascade.applied"
	EventJobProgress        EventType = "job.progress"

	EventMessagingConnected    EventType = "messaging.connected"
	EventMessagingDisconnected EventType = "messaging.disconnected"
	EventCacheConnected        EventType = "cache.connected"
	EventCacheDisconnected     EventType = "cache.disconnected"
)

// --- Event payloads ---

type EntityCreatedEvent struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Status string `json:"status,omitempty"`
	Actor  string `json:"actor"`
}

type EntityTransitionedEvent struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Axis    string `json:"axis"`
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor"`
	Version int64  `json:"version"`
}

type EntityDeletedEvent struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Actor string `json:"actor"`
}

type CascadeAppliedEvent struct {
	TriggerID string             `json:"trigger_id"`
	Effects   []lifecycle.Effect `json:"effects"`
}

type JobProgressEvent struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
}

type ConnectionEvent struct {
	Detail string `json:"detail"`
}
