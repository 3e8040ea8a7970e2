package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrStateNotFound is returned by backends when nothing has been persisted yet.
var ErrStateNotFound = errors.New("progress: state not found")

// Backend is a durable home for session snapshots. Save always receives the
// full state and replaces whatever was stored before.
type Backend interface {
	Name() string
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
	Close() error
}

// Store serializes all access to a Backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *zap.Logger
}

func NewStore(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		backend: backend,
		logger:  logger.With(zap.String("backend", backend.Name())),
	}
}

// LoadAll reads the full durable state. Missing or unreadable state yields an
// empty snapshot; the failure is only logged.
func (s *Store) LoadAll(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.backend.Load(ctx)
	switch {
	case errors.Is(err, ErrStateNotFound):
		s.logger.Info("no saved progress found, starting empty")
		return Snapshot{}
	case err != nil:
		s.logger.Warn("loading progress failed, starting empty", zap.Error(err))
		return Snapshot{}
	}

	if snapshot == nil {
		return Snapshot{}
	}

	return snapshot
}

// SaveAll overwrites the durable state with snapshot. A failed save is logged
// and returned; the caller keeps its in-memory state and the next successful
// save catches up.
func (s *Store) SaveAll(ctx context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Save(ctx, snapshot); err != nil {
		s.logger.Warn("saving progress failed", zap.Int("sessions", len(snapshot)), zap.Error(err))
		return fmt.Errorf("save progress: %w", err)
	}

	s.logger.Debug("progress saved", zap.Int("sessions", len(snapshot)))
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.Close()
}
