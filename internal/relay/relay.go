// Package relay fans session and job events out to tenant-scoped
// subscribers. Publishing never blocks: a subscriber that cannot keep up
// loses events rather than stalling the dispatch path.
package relay

import (
	"sync"

	"blast/internal/domain"
	"blast/internal/observability"
)

const (
	EventQR          = "qr"
	EventStatus      = "status"
	EventJobProgress = "job-progress"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func QREvent(payload string) Event {
	return Event{Type: EventQR, Data: map[string]string{"qrCode": payload}}
}

func StatusEvent(state domain.SessionState, message string) Event {
	return Event{Type: EventStatus, Data: map[string]string{
		"status":  string(state),
		"message": message,
	}}
}

func JobProgressEvent(jobID string, status domain.MessageStatus, success, failure int) Event {
	return Event{Type: EventJobProgress, Data: map[string]any{
		"messageId":    jobID,
		"status":       string(status),
		"successCount": success,
		"failureCount": failure,
	}}
}

const defaultBuffer = 16

type Subscriber struct {
	C      <-chan Event
	ch     chan Event
	tenant string
	hub    *Hub
	once   sync.Once
}

func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.remove(s.tenant, s)
		close(s.ch)
		observability.RelaySubscribers.Dec()
	})
}

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe joins the tenant's topic. The caller must Close the subscriber.
func (h *Hub) Subscribe(tenantID string) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, defaultBuffer), tenant: tenantID, hub: h}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[*Subscriber]struct{})
	}
	h.subs[tenantID][sub] = struct{}{}
	observability.RelaySubscribers.Inc()
	return sub
}

func (h *Hub) remove(tenantID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[tenantID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, tenantID)
		}
	}
}

// Publish fans the event out to every subscriber on the tenant's topic.
func (h *Hub) Publish(tenantID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[tenantID] {
		select {
		case sub.ch <- ev:
		default:
			observability.RelayDropped.Inc()
		}
	}
}
