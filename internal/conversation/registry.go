package conversation

import (
	"sync"
	"time"

	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/vietqr"
)

// Answers accumulates validated input. Fields are only meaningful for the
// kinds that collect them.
type Answers struct {
	Total      int64
	OpenAmount bool
	Message    string
	PartyCount int

	Bank          vietqr.Bank
	AccountNumber string
	HolderName    string

	ChatID     int64
	GroupLabel string

	Account  domain.BankAccount
	Group    domain.ChatGroup
	HasGroup bool
}

// Flow is one user's in-progress conversation. Callers only ever see copies.
type Flow struct {
	ID           uint64
	UserID       int64
	Kind         Kind
	Step         Step
	Answers      Answers
	CreatedAt    time.Time
	LastActivity time.Time

	busy bool
}

type acquireStatus int

const (
	acquired acquireStatus = iota
	noFlow
	flowBusy
)

// registry holds at most one live flow per user. Steps run on copies outside
// the lock and are written back only if the flow was not replaced meanwhile.
type registry struct {
	mu     sync.Mutex
	flows  map[int64]*Flow
	nextID uint64
}

func newRegistry() *registry {
	return &registry{flows: make(map[int64]*Flow)}
}

// start replaces whatever flow the user had and reports the discarded one.
func (r *registry) start(userID int64, kind Kind, now time.Time) (Flow, *Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced *Flow
	if old, ok := r.flows[userID]; ok {
		cp := *old
		replaced = &cp
	}

	r.nextID++
	f := &Flow{
		ID:           r.nextID,
		UserID:       userID,
		Kind:         kind,
		Step:         firstStep(kind),
		CreatedAt:    now,
		LastActivity: now,
	}
	r.flows[userID] = f
	return *f, replaced
}

// acquire marks the user's flow busy and hands back a copy.
func (r *registry) acquire(userID int64) (Flow, acquireStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flows[userID]
	if !ok {
		return Flow{}, noFlow
	}
	if f.busy {
		return Flow{}, flowBusy
	}
	f.busy = true
	return *f, acquired
}

// commit stores an advanced copy and clears busy. It fails when the flow was
// cancelled or replaced while the step ran.
func (r *registry) commit(f Flow, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.flows[f.UserID]
	if !ok || cur.ID != f.ID {
		return false
	}
	f.busy = false
	f.LastActivity = now
	*cur = f
	return true
}

// release clears busy without applying any change.
func (r *registry) release(f Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.flows[f.UserID]; ok && cur.ID == f.ID {
		cur.busy = false
	}
}

// claim removes the flow so no other caller can act on it.
func (r *registry) claim(f Flow) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.flows[f.UserID]
	if !ok || cur.ID != f.ID {
		return false
	}
	delete(r.flows, f.UserID)
	return true
}

// restore puts a claimed flow back unless the user has started another one.
func (r *registry) restore(f Flow, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.flows[f.UserID]; ok {
		return false
	}
	f.busy = false
	f.LastActivity = now
	cp := f
	r.flows[f.UserID] = &cp
	return true
}

// remove discards the user's flow regardless of its state.
func (r *registry) remove(userID int64) (Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flows[userID]
	if !ok {
		return Flow{}, false
	}
	delete(r.flows, userID)
	return *f, true
}

// get returns a copy of the user's flow.
func (r *registry) get(userID int64) (Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flows[userID]
	if !ok {
		return Flow{}, false
	}
	return *f, true
}

// evictIdle drops flows untouched since before cutoff. Busy flows are left
// alone; their step will refresh them.
func (r *registry) evictIdle(cutoff time.Time) []Flow {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Flow
	for userID, f := range r.flows {
		if f.busy || !f.LastActivity.Before(cutoff) {
			continue
		}
		evicted = append(evicted, *f)
		delete(r.flows, userID)
	}
	return evicted
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}
