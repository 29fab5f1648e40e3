// Package events is the in-process publish/subscribe bus connecting the tracker,
// the push channel and whatever renders the projection.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventSnapshot     EventType = "snapshot"      // Push delivery of a job/batch snapshot
	EventProjection   EventType = "projection"    // Read-only projection recomputed after a session mutation
	EventBanner       EventType = "banner"        // User-facing banner raised by dispatch or tracking
	EventSessionState EventType = "session_state" // Session lifecycle transitions
	EventLog          EventType = "log"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// SnapshotEvent carries a snapshot published by an in-process producer
// (the dev server or a test) to the bus-backed progress channel.
type SnapshotEvent struct {
	BaseEvent
	Snapshot models.Snapshot
}

// ProjectionEvent carries the latest projection. The payload is opaque here
// to keep this package free of tracker types.
type ProjectionEvent struct {
	BaseEvent
	SessionID  string
	Projection any
}

// BannerLevel orders banners by severity.
type BannerLevel string

const (
	BannerInfo    BannerLevel = "info"
	BannerWarning BannerLevel = "warning"
	BannerError   BannerLevel = "error"
)

// BannerEvent represents a message for the user, optionally with per-file details.
type BannerEvent struct {
	BaseEvent
	Level   BannerLevel
	Message string
	Items   []models.Item
}

// SessionStateEvent represents tracking session lifecycle transitions
type SessionStateEvent struct {
	BaseEvent
	SessionID string
	OldState  string
	NewState  string
	JobID     string
	Reason    string
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   string
	Message string
	Error   error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// A subscriber whose buffer is full misses the event; delivery is at-most-once.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishSnapshot is a convenience method for publishing a pushed snapshot
func (eb *EventBus) PublishSnapshot(snap models.Snapshot) {
	eb.Publish(&SnapshotEvent{
		BaseEvent: BaseEvent{EventType: EventSnapshot, Time: time.Now()},
		Snapshot:  snap,
	})
}

// PublishBanner is a convenience method for publishing banner events
func (eb *EventBus) PublishBanner(level BannerLevel, message string, items []models.Item) {
	eb.Publish(&BannerEvent{
		BaseEvent: BaseEvent{EventType: EventBanner, Time: time.Now()},
		Level:     level,
		Message:   message,
		Items:     items,
	})
}

// PublishSessionState is a convenience method for publishing session transitions
func (eb *EventBus) PublishSessionState(sessionID, oldState, newState, jobID, reason string) {
	eb.Publish(&SessionStateEvent{
		BaseEvent: BaseEvent{EventType: EventSessionState, Time: time.Now()},
		SessionID: sessionID,
		OldState:  oldState,
		NewState:  newState,
		JobID:     jobID,
		Reason:    reason,
	})
}

// PublishProjection is a convenience method for publishing projection updates
func (eb *EventBus) PublishProjection(sessionID string, projection any) {
	eb.Publish(&ProjectionEvent{
		BaseEvent:  BaseEvent{EventType: EventProjection, Time: time.Now()},
		SessionID:  sessionID,
		Projection: projection,
	})
}

// Unsubscribe removes a subscription channel from a specific event type and closes it.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			close(subCh)
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from every event type and the all-events list.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				close(subCh)
				return
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			close(subCh)
			return
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped event counter to zero
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
