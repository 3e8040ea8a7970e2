package progress

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/chat"
)

// Tracker is the in-memory mirror of the store. It is the only writer of
// session state: every change goes through Do, which holds a single global
// lock around read, mutate and persist.
type Tracker struct {
	mu       sync.Mutex
	sessions Snapshot
	store    *Store
	logger   *zap.Logger
}

func NewTracker(store *Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Tracker{
		sessions: Snapshot{},
		store:    store,
		logger:   logger,
	}
}

// Load replaces the mirror with the durable state and returns the number of sessions.
func (t *Tracker) Load(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions = t.store.LoadAll(ctx)
	return len(t.sessions)
}

// Snapshot returns a deep copy of all sessions.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sessions.Clone()
}

// Get returns a copy of the user's session.
func (t *Tracker) Get(user chat.UserID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[user]
	return s.Clone(), ok
}

// Do runs fn inside the global lock on a copy of the state. When fn returns
// nil and changed something, the copy becomes the mirror and the full state
// is flushed. When fn fails, its changes are discarded.
func (t *Tracker) Do(ctx context.Context, fn func(tx *Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &Tx{sessions: t.sessions.Clone()}
	if err := fn(tx); err != nil {
		return err
	}

	if !tx.dirty {
		return nil
	}

	t.sessions = tx.sessions
	// The store logs failures; memory stays ahead until the next save.
	_ = t.store.SaveAll(ctx, t.sessions)

	return nil
}

// Tx is a transaction over the session state.
type Tx struct {
	sessions Snapshot
	dirty    bool
}

// Get returns a copy of the user's session. Changes become visible only after Put.
func (tx *Tx) Get(user chat.UserID) (*Session, bool) {
	s, ok := tx.sessions[user]
	return s.Clone(), ok
}

// Users lists the users with a session, ordered by ID.
func (tx *Tx) Users() []chat.UserID {
	return tx.sessions.Users()
}

func (tx *Tx) Put(user chat.UserID, s *Session) {
	tx.sessions[user] = s.Clone()
	tx.dirty = true
}

func (tx *Tx) Delete(user chat.UserID) {
	if _, ok := tx.sessions[user]; !ok {
		return
	}
	delete(tx.sessions, user)
	tx.dirty = true
}
