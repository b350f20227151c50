// internal/handler/event_bus.go
package handler

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/model"
)

const (
	eventQueueSize       = 1000
	subscriberBufferSize = 100
)

// EventBus fans bridge events out to subscribers. Publishing never blocks:
// events are dropped when the queue or a subscriber buffer is full.
type EventBus struct {
	subscribers map[model.EventType][]chan model.BridgeEvent
	all         []chan model.BridgeEvent
	events      chan model.BridgeEvent
	mutex       sync.RWMutex
	closed      bool
	dropped     atomic.Int64
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan model.BridgeEvent),
		events:      make(chan model.BridgeEvent, eventQueueSize),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until Close is called. Subscriber channels are
// closed when it returns.
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	unique := make(map[chan model.BridgeEvent]struct{})
	for _, subscribers := range eb.subscribers {
		for _, subscriber := range subscribers {
			unique[subscriber] = struct{}{}
		}
	}
	for _, subscriber := range eb.all {
		unique[subscriber] = struct{}{}
	}
	for subscriber := range unique {
		close(subscriber)
	}
	eb.subscribers = make(map[model.EventType][]chan model.BridgeEvent)
	eb.all = nil
}

// Close stops accepting events. Events already queued are still delivered.
func (eb *EventBus) Close() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	close(eb.events)
}

// Publish queues an event for distribution
func (eb *EventBus) Publish(event model.BridgeEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	if eb.closed {
		return
	}

	select {
	case eb.events <- event:
	default:
		eb.dropped.Add(1)
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("camera", event.Camera),
		)
	}
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none is given
func (eb *EventBus) Subscribe(eventTypes ...model.EventType) <-chan model.BridgeEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.BridgeEvent, subscriberBufferSize)
	if eb.closed {
		close(subscriber)
		return subscriber
	}

	if len(eventTypes) == 0 {
		eb.all = append(eb.all, subscriber)
		return subscriber
	}
	for _, eventType := range eventTypes {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	}
	return subscriber
}

// Unsubscribe removes a subscription and closes its channel
func (eb *EventBus) Unsubscribe(subscription <-chan model.BridgeEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	var found chan model.BridgeEvent
	remove := func(subscribers []chan model.BridgeEvent) []chan model.BridgeEvent {
		kept := subscribers[:0]
		for _, subscriber := range subscribers {
			if (<-chan model.BridgeEvent)(subscriber) == subscription {
				found = subscriber
				continue
			}
			kept = append(kept, subscriber)
		}
		return kept
	}

	eb.all = remove(eb.all)
	for eventType, subscribers := range eb.subscribers {
		eb.subscribers[eventType] = remove(subscribers)
	}

	if found != nil {
		close(found)
	}
}

// Dropped returns how many events were discarded because a queue was full
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// distributeEvent delivers an event to its subscribers without blocking
func (eb *EventBus) distributeEvent(event model.BridgeEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	deliver := func(subscriber chan model.BridgeEvent) {
		select {
		case subscriber <- event:
		default:
			// slow subscriber
			eb.dropped.Add(1)
		}
	}

	for _, subscriber := range eb.subscribers[event.EventType] {
		deliver(subscriber)
	}
	for _, subscriber := range eb.all {
		deliver(subscriber)
	}
}
