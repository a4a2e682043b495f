package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"breakerd/internal/domain"
)

// Message is one live-state frame. Data carries the breaker list on
// full snapshots; the flat fields carry an incremental update.
type Message struct {
	Type        string           `json:"type"`
	Data        []domain.Breaker `json:"data,omitempty"`
	BreakerID   string           `json:"breaker_id,omitempty"`
	On          *bool            `json:"power_state,omitempty"`
	Balance     *float64         `json:"balance,omitempty"`
	CardUID     string           `json:"card_uid,omitempty"`
	Discrepancy bool             `json:"discrepancy,omitempty"`
}

func FullSnapshot(snap domain.Snapshot) Message {
	breakers := make([]domain.Breaker, 0, len(snap.Breakers))
	for _, b := range snap.Breakers {
		breakers = append(breakers, b)
	}
	return Message{Type: "full_snapshot", Data: breakers}
}

func BreakerUpdate(b domain.Breaker) Message {
	on, balance := b.On, b.Balance
	return Message{
		Type:        "incremental_update",
		BreakerID:   b.ID,
		On:          &on,
		Balance:     &balance,
		CardUID:     b.CardUID,
		Discrepancy: b.Discrepancy,
	}
}

// Observer is one connected live-state client. Out is closed when the
// hub drops the observer; the owner must stop reading then.
type Observer struct {
	ID  string
	Out chan Message
}

// Hub fans state changes out to all connected observers. Delivery is
// per-observer isolated: an observer whose buffer is full is dropped
// rather than blocking the rest.
type Hub struct {
	mu        sync.Mutex
	observers map[string]*Observer
	buffer    int
}

func NewHub() *Hub {
	return &Hub{observers: map[string]*Observer{}, buffer: 64}
}

// Register adds an observer and queues the initial full snapshot.
func (h *Hub) Register(snap domain.Snapshot) *Observer {
	obs := &Observer{ID: uuid.NewString(), Out: make(chan Message, h.buffer)}
	obs.Out <- FullSnapshot(snap)
	h.mu.Lock()
	h.observers[obs.ID] = obs
	h.mu.Unlock()
	log.Debug().Str("observer", obs.ID).Msg("observer connected")
	return obs
}

// Unregister removes an observer and closes its channel. Safe to call
// for an already-dropped observer.
func (h *Hub) Unregister(obs *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[obs.ID]; ok {
		delete(h.observers, obs.ID)
		close(obs.Out)
		log.Debug().Str("observer", obs.ID).Msg("observer disconnected")
	}
}

// Publish queues msg to every observer. Observers that cannot keep up
// are dropped.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, obs := range h.observers {
		select {
		case obs.Out <- msg:
		default:
			delete(h.observers, id)
			close(obs.Out)
			log.Warn().Str("observer", id).Msg("observer too slow, dropped")
		}
	}
}

// Count reports connected observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}
