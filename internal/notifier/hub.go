// Package notifier delivers task status changes to live subscribers. Events
// are fanned out across processes over Redis pub/sub and then to the
// WebSocket clients subscribed to the task on each gateway instance.
package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cuongbtq/reservation-import/internal/domain"
)

// Event names used on the live status channel
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventTaskStatus  = "taskStatus"
	EventError       = "error"
)

// Envelope is the frame exchanged with live status clients
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes data into a frame for the given event
func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// StatusPublisher announces committed task status changes
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event domain.StatusEvent) error
}

// Subscriber is one live connection. Frames queued for it are read from Send.
type Subscriber struct {
	send chan []byte

	mu     sync.Mutex
	topics map[string]struct{}
}

// NewSubscriber creates a subscriber with a send buffer of the given size
func NewSubscriber(buffer int) *Subscriber {
	return &Subscriber{
		send:   make(chan []byte, buffer),
		topics: make(map[string]struct{}),
	}
}

// Send returns the channel of frames waiting to be written
func (s *Subscriber) Send() <-chan []byte {
	return s.send
}

// Offer queues frame without blocking and reports whether it was accepted
func (s *Subscriber) Offer(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Topics returns the task ids the subscriber is currently listening to
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	return topics
}

// Hub groups subscribers by task id
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscriber]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe adds s to the group of taskID. Subscribing twice is a no-op.
func (h *Hub) Subscribe(s *Subscriber, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[taskID]
	if !ok {
		group = make(map[*Subscriber]struct{})
		h.groups[taskID] = group
	}
	group[s] = struct{}{}

	s.mu.Lock()
	s.topics[taskID] = struct{}{}
	s.mu.Unlock()
}

// Unsubscribe removes s from the group of taskID
func (h *Hub) Unsubscribe(s *Subscriber, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leave(s, taskID)
}

// Remove drops s from every group it joined. Called when the connection closes.
func (h *Hub) Remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, taskID := range s.Topics() {
		h.leave(s, taskID)
	}
}

func (h *Hub) leave(s *Subscriber, taskID string) {
	if group, ok := h.groups[taskID]; ok {
		delete(group, s)
		if len(group) == 0 {
			delete(h.groups, taskID)
		}
	}

	s.mu.Lock()
	delete(s.topics, taskID)
	s.mu.Unlock()
}

// SubscriberCount returns the number of subscribers of taskID
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[taskID])
}

// Broadcast queues a taskStatus frame for every subscriber of the event's
// task and returns how many received it. Subscribers whose buffer is full
// miss the frame.
func (h *Hub) Broadcast(event domain.StatusEvent) int {
	frame, err := NewEnvelope(EventTaskStatus, event)
	if err != nil {
		h.logger.Error("Failed to encode status event",
			slog.String("task_id", event.TaskID),
			slog.Any("error", err),
		)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.groups[event.TaskID] {
		if s.Offer(frame) {
			delivered++
		} else {
			h.logger.Warn("Dropping status event for slow subscriber",
				slog.String("task_id", event.TaskID),
				slog.String("status", string(event.Status)),
			)
		}
	}

	return delivered
}

// PublishStatus broadcasts directly to local subscribers. It lets the hub
// stand in for a cross-process publisher when only one gateway runs.
func (h *Hub) PublishStatus(_ context.Context, event domain.StatusEvent) error {
	h.Broadcast(event)
	return nil
}
