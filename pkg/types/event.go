package types

import "time"

// EventType identifies the kind of committed mutation.
type EventType string

// Change event types.
const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is an immutable notification of one committed mutation.
type Event struct {
	// Seq is the feed position, assigned on append (starts at 1).
	Seq uint64 `json:"seq"`
	// Type is created, updated, or deleted.
	Type EventType `json:"type"`
	// EntityType is the schema name of the affected record.
	EntityType string `json:"entityType"`
	// ID is the affected record.
	ID string `json:"id"`
	// Version is the record version produced by the mutation.
	Version int64 `json:"version"`
	// Timestamp is the commit time.
	Timestamp time.Time `json:"timestamp"`
	// Actor is who made the change, empty when unknown.
	Actor string `json:"actor,omitempty"`
}
