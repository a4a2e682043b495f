package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"breakerd/internal/broadcast"
	"breakerd/internal/domain"
	"breakerd/internal/power"
	"breakerd/internal/store"
)

// Engine owns the three entity collections. Every mutation runs under
// one mutex so the metering tick and concurrently arriving reports
// never interleave on a partially-applied update. The mutex is held
// only for the in-memory mutation; power backend calls and durable
// writes happen after it is released.
type Engine struct {
	mu          sync.Mutex
	cards       map[string]domain.Card
	breakers    map[string]domain.Breaker
	controllers map[string]domain.Controller

	// saveMu serializes durable writes. Each write snapshots under
	// saveMu, so a save can never land after a save of newer state:
	// an acknowledged mutation is never overwritten on disk by an
	// older document.
	saveMu sync.Mutex

	store   store.Store
	backend power.Backend
	hub     *broadcast.Hub
}

func New(st store.Store, be power.Backend, hub *broadcast.Hub) *Engine {
	return &Engine{
		cards:       map[string]domain.Card{},
		breakers:    map[string]domain.Breaker{},
		controllers: map[string]domain.Controller{},
		store:       st,
		backend:     be,
		hub:         hub,
	}
}

// Load replaces in-memory state with the persisted document. A corrupt
// document is returned as an error so the caller can halt.
func (e *Engine) Load(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cards = snap.Cards
	e.breakers = snap.Breakers
	e.controllers = snap.Controllers
	e.mu.Unlock()
	log.Info().
		Int("cards", len(snap.Cards)).
		Int("breakers", len(snap.Breakers)).
		Int("controllers", len(snap.Controllers)).
		Msg("state loaded")
	return nil
}

// Credit adds amount to the card's balance, creating the card on first
// sighting. Negative amounts are rejected.
func (e *Engine) Credit(ctx context.Context, uid string, amount float64) (domain.Card, error) {
	if uid == "" {
		return domain.Card{}, fmt.Errorf("%w: empty card uid", domain.ErrInvalidPayload)
	}
	if amount < 0 {
		return domain.Card{}, fmt.Errorf("%w: negative credit %.3f", domain.ErrInvalidPayload, amount)
	}
	e.mu.Lock()
	card, ok := e.cards[uid]
	if !ok {
		card = domain.Card{UID: uid}
	}
	card.Balance += amount
	e.cards[uid] = card
	changed := e.mirrorLocked(uid)
	e.mu.Unlock()
	return card, e.finish(ctx, changed, nil)
}

// SetCardBalance overwrites a card's balance (operator top-up/reset).
// Breakers running on the card are shut off immediately when the new
// balance is zero.
func (e *Engine) SetCardBalance(ctx context.Context, uid string, balance float64) (domain.Card, error) {
	if balance < 0 {
		return domain.Card{}, fmt.Errorf("%w: negative balance %.3f", domain.ErrInvalidPayload, balance)
	}
	e.mu.Lock()
	card, ok := e.cards[uid]
	if !ok {
		e.mu.Unlock()
		return domain.Card{}, fmt.Errorf("%w: card %q", domain.ErrUnknownEntity, uid)
	}
	card.Balance = balance
	e.cards[uid] = card
	changed := e.mirrorLocked(uid)
	var calls []powerCall
	if balance <= 0 {
		changed, calls = e.shutoffLocked(uid, changed)
	}
	e.mu.Unlock()
	return card, e.finish(ctx, changed, calls)
}

// DebitTick debits one tick's worth of consumption from the card
// behind the breaker, clamped at zero. At zero the breaker (and any
// other breaker running on the same card) is driven off.
func (e *Engine) DebitTick(ctx context.Context, breakerID string) error {
	e.mu.Lock()
	b, ok := e.breakers[breakerID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: breaker %q", domain.ErrUnknownEntity, breakerID)
	}
	if !b.On || b.CardUID == "" {
		e.mu.Unlock()
		return nil
	}
	card, ok := e.cards[b.CardUID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: card %q referenced by breaker %q", domain.ErrUnknownEntity, b.CardUID, breakerID)
	}
	card.Balance -= b.Rate
	if card.Balance < 0 {
		card.Balance = 0
	}
	e.cards[card.UID] = card
	changed := e.mirrorLocked(card.UID)
	var calls []powerCall
	if card.Balance <= 0 {
		changed, calls = e.shutoffLocked(card.UID, changed)
	}
	e.mu.Unlock()
	return e.finish(ctx, changed, calls)
}

// SetPower forces a breaker's state. Turning on requires an associated
// card with positive balance; turning off always succeeds and keeps
// the association. The backend call is always issued, so an explicit
// command retries an earlier discrepancy.
func (e *Engine) SetPower(ctx context.Context, breakerID string, on bool) (domain.Breaker, error) {
	e.mu.Lock()
	b, ok := e.breakers[breakerID]
	if !ok {
		e.mu.Unlock()
		return domain.Breaker{}, fmt.Errorf("%w: breaker %q", domain.ErrUnknownEntity, breakerID)
	}
	if on {
		if b.CardUID == "" {
			e.mu.Unlock()
			return b, fmt.Errorf("%w: breaker %q has no associated card", domain.ErrPreconditionFailed, breakerID)
		}
		card, ok := e.cards[b.CardUID]
		if !ok || card.Balance <= 0 {
			e.mu.Unlock()
			return b, fmt.Errorf("%w: card %q has no balance", domain.ErrPreconditionFailed, b.CardUID)
		}
	}
	b.On = on
	e.breakers[breakerID] = b
	e.mu.Unlock()
	err := e.finish(ctx, []string{breakerID}, []powerCall{{breakerID: breakerID, on: on}})
	return b, err
}

// Associate links a card to a breaker, creating the card on first
// sighting, and refreshes the mirrored balance.
func (e *Engine) Associate(ctx context.Context, breakerID, uid string) (domain.Breaker, error) {
	if uid == "" {
		return domain.Breaker{}, fmt.Errorf("%w: empty card uid", domain.ErrInvalidPayload)
	}
	e.mu.Lock()
	b, ok := e.breakers[breakerID]
	if !ok {
		e.mu.Unlock()
		return domain.Breaker{}, fmt.Errorf("%w: breaker %q", domain.ErrUnknownEntity, breakerID)
	}
	card, ok := e.cards[uid]
	if !ok {
		card = domain.Card{UID: uid}
		e.cards[uid] = card
	}
	b.CardUID = uid
	b.Balance = card.Balance
	e.breakers[breakerID] = b
	e.mu.Unlock()
	err := e.finish(ctx, []string{breakerID}, nil)
	return b, err
}

// TouchController upserts the controller and refreshes its last-seen
// timestamp. Memory-only: the surrounding report always ends in a
// persisting operation.
func (e *Engine) TouchController(id string) {
	if id == "" {
		return
	}
	e.mu.Lock()
	e.controllers[id] = domain.Controller{ID: id, LastSeen: time.Now().UTC()}
	e.mu.Unlock()
}

// Breaker returns a copy of one breaker.
func (e *Engine) Breaker(id string) (domain.Breaker, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[id]
	return b, ok
}

// Card returns a copy of one card.
func (e *Engine) Card(uid string) (domain.Card, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cards[uid]
	return c, ok
}

// Snapshot returns a consistent deep copy of all entities.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// PoweredBreakerIDs lists breakers eligible for a metering debit.
func (e *Engine) PoweredBreakerIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id, b := range e.breakers {
		if b.On && b.CardUID != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

type powerCall struct {
	breakerID string
	on        bool
}

// mirrorLocked refreshes the denormalized balance on every breaker
// associated with the card. Caller holds the mutex.
func (e *Engine) mirrorLocked(uid string) []string {
	card := e.cards[uid]
	var changed []string
	for id, b := range e.breakers {
		if b.CardUID == uid {
			b.Balance = card.Balance
			e.breakers[id] = b
			changed = append(changed, id)
		}
	}
	return changed
}

// shutoffLocked turns off every powered breaker running on the card
// and queues the backend off-calls. Caller holds the mutex.
func (e *Engine) shutoffLocked(uid string, changed []string) ([]string, []powerCall) {
	var calls []powerCall
	for id, b := range e.breakers {
		if b.CardUID == uid && b.On {
			b.On = false
			e.breakers[id] = b
			calls = append(calls, powerCall{breakerID: id, on: false})
			if !contains(changed, id) {
				changed = append(changed, id)
			}
		}
	}
	return changed, calls
}

func (e *Engine) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Cards:       make(map[string]domain.Card, len(e.cards)),
		Breakers:    make(map[string]domain.Breaker, len(e.breakers)),
		Controllers: make(map[string]domain.Controller, len(e.controllers)),
	}
	for k, v := range e.cards {
		snap.Cards[k] = v
	}
	for k, v := range e.breakers {
		snap.Breakers[k] = v
	}
	for k, v := range e.controllers {
		snap.Controllers[k] = v
	}
	return snap
}

// finish runs the side effects of a completed mutation: drive the
// physical backend, persist the full document, broadcast the changed
// breakers. A backend failure is logged and surfaced as a discrepancy
// but never fails the operation; a persistence failure does (state
// stays applied, fail-open).
func (e *Engine) finish(ctx context.Context, changed []string, calls []powerCall) error {
	for _, c := range calls {
		if err := e.backend.SetState(ctx, c.breakerID, c.on); err != nil {
			log.Error().Err(err).Str("breaker", c.breakerID).Bool("on", c.on).
				Msg("power backend call failed, state mismatch possible")
			e.setDiscrepancy(c.breakerID, true)
		} else {
			e.setDiscrepancy(c.breakerID, false)
		}
	}

	e.saveMu.Lock()
	e.mu.Lock()
	snap := e.snapshotLocked()
	msgs := make([]broadcast.Message, 0, len(changed))
	for _, id := range changed {
		if b, ok := e.breakers[id]; ok {
			msgs = append(msgs, broadcast.BreakerUpdate(b))
		}
	}
	e.mu.Unlock()

	saveErr := e.store.Save(ctx, snap)
	e.saveMu.Unlock()
	if saveErr != nil {
		log.Error().Err(saveErr).Msg("durable write failed, in-memory state kept")
	}
	for _, m := range msgs {
		e.hub.Publish(m)
	}
	if saveErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, saveErr)
	}
	return nil
}

func (e *Engine) setDiscrepancy(breakerID string, v bool) {
	e.mu.Lock()
	if b, ok := e.breakers[breakerID]; ok && b.Discrepancy != v {
		b.Discrepancy = v
		e.breakers[breakerID] = b
	}
	e.mu.Unlock()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
