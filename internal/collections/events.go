package collections

import (
	"context"
	"sync"
	"time"
)

// EventType names a change to a collection.
type EventType string

const (
	EventCollectionCreated EventType = "collection.created"
	EventDocumentAdded     EventType = "document.added"
	EventDocumentDeleted   EventType = "document.deleted"
	EventCollectionRenamed EventType = "collection.renamed"
	EventCollectionDeleted EventType = "collection.deleted"
)

// Event describes one committed change. NewName is set for renames only.
type Event struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	NewName    string    `json:"new_name,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	Time       time.Time `json:"time"`
}

// Notifier receives change events after the change is committed.
// Errors are logged by the store and never fail the operation.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Recorder is an in-memory Notifier.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	events := r.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
