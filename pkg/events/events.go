package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/google/uuid"
)

// EventType is the event name used in the notification subject
type EventType string

const (
	EventTaskApproved      EventType = "TaskApproved"
	EventTaskScheduled     EventType = "TaskScheduled"
	EventTaskConflict      EventType = "TaskConflict"
	EventTaskError         EventType = "TaskError"
	EventTaskStatusChanged EventType = "TaskStatusChanged"
	EventTaskDeleted       EventType = "TaskDeleted"
	EventResourceUpdated   EventType = "ResourceUpdated"
)

// Metadata keys carried by task notifications
const (
	KeyRADBID  = "radb_id"
	KeyOTDBID  = "otdb_id"
	KeyMoMID   = "mom_id"
	KeyProject = "project"
	KeyStatus  = "status"
)

// Event represents a notification. Metadata is the flat key/value content.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata"`
}

// Subject returns "<prefix>.<EventName>"
func (e *Event) Subject(prefix string) string {
	if prefix == "" {
		return string(e.Type)
	}
	return prefix + "." + string(e.Type)
}

// TaskEvent builds a task notification carrying radb, otdb and mom ids
func TaskEvent(typ EventType, task *types.Task, message string) *Event {
	return &Event{
		ID:      uuid.New().String(),
		Type:    typ,
		Message: message,
		Metadata: map[string]string{
			KeyRADBID: strconv.Itoa(task.ID),
			KeyOTDBID: strconv.Itoa(task.OTDBID),
			KeyMoMID:  strconv.Itoa(task.MomID),
			KeyStatus: string(task.Status),
		},
	}
}

// Publisher accepts events for delivery
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers. It never blocks the
// caller: delivery is at-most-once.
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		metrics.NotificationsDropped.Inc()
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
			metrics.NotificationsDropped.Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
