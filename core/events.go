package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a structural decision taken by the engine.
type EventKind string

const (
	EventAttached          EventKind = "ATTACHED"
	EventParentUnchanged   EventKind = "PARENT_UNCHANGED"
	EventAttachFailed      EventKind = "ATTACH_FAILED"
	EventDetached          EventKind = "DETACHED"
	EventNodeRemoved       EventKind = "NODE_REMOVED"
	EventUnsupplied        EventKind = "UNSUPPLIED"
	EventResupplied        EventKind = "RESUPPLIED"
	EventCapacityChanged   EventKind = "CAPACITY_CHANGED"
	EventLoadShed          EventKind = "LOAD_SHED"
	EventOverloadResolved  EventKind = "OVERLOAD_RESOLVED"
	EventCriticalOverload  EventKind = "CRITICAL_OVERLOAD"
	EventPreventiveDetach  EventKind = "PREVENTIVE_DETACH"
	EventLoadUpdated       EventKind = "LOAD_UPDATED"
	EventHydrated          EventKind = "HYDRATED"
	EventRecoverySweepDone EventKind = "RECOVERY_SWEEP"
)

// Event is one entry of the operator-facing decision log.
type Event struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Kind     EventKind `json:"kind"`
	NodeID   string    `json:"node_id,omitempty"`
	ParentID string    `json:"parent_id,omitempty"`
	Message  string    `json:"message"`
}

// eventLog collects the events of one operation and appends them to the
// shared journal when the operation finishes.
type eventLog struct {
	now    func() time.Time
	events []Event
}

func (l *eventLog) add(kind EventKind, nodeID, parentID, msg string) {
	l.events = append(l.events, Event{
		ID:       uuid.NewString(),
		Time:     l.now(),
		Kind:     kind,
		NodeID:   nodeID,
		ParentID: parentID,
		Message:  msg,
	})
}

// Journal is a drain-on-read buffer of events with a single consumer.
type Journal struct {
	entries []Event
}

func (j *Journal) append(events []Event) {
	j.entries = append(j.entries, events...)
}

// Len reports how many events are waiting to be drained.
func (j *Journal) Len() int { return len(j.entries) }

// Drain returns every buffered event in order and empties the buffer.
func (j *Journal) Drain() []Event {
	out := j.entries
	j.entries = nil
	return out
}
