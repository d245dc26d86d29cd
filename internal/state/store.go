package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mauzec/task-manager/internal/core"
	"github.com/mauzec/task-manager/internal/storage"
	"github.com/mauzec/task-manager/internal/storage/snapshot"
	"go.uber.org/zap"
)

// Store owns the committed task list. Every mutation is staged on a private copy,
// persisted as a whole snapshot and only then committed, so a failed save leaves
// the committed state exactly as it was.
type Store struct {
	backend storage.Backend
	logger  *zap.Logger
	now     func() time.Time

	// writeMu serializes stage->persist->commit.
	writeMu sync.Mutex

	mu        sync.RWMutex
	committed *State
}

func New(backend storage.Backend, logger *zap.Logger, now func() time.Time) (*Store, error) {
	const op = "state.New"
	if backend == nil {
		return nil, core.NewInternalError("storage backend required", nil, op)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		backend:   backend,
		logger:    logger,
		now:       now,
		committed: newState(),
	}, nil
}

// Apply runs mutate on a copy of the committed state and commits the copy
// only when the backend accepted the encoded snapshot. A mutate error is
// returned as is and nothing is persisted.
func (s *Store) Apply(ctx context.Context, mutate func(*State) error) error {
	const op = "state.Store.Apply"

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// committed only changes under writeMu, no read lock needed here
	staged := s.committed.clone()
	if err := mutate(staged); err != nil {
		return err
	}
	return s.persistAndCommit(ctx, staged, op)
}

// Load replaces the committed state with the backend's snapshot.
// On any failure the current state is kept.
func (s *Store) Load(ctx context.Context) error {
	const op = "state.Store.Load"

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.backend.Load(ctx)
	if err != nil {
		return core.NewStorageError("load tasks", err, op)
	}
	next := newState()
	if data != nil {
		if next, err = s.decode(data, op); err != nil {
			return core.NewStorageError("decode tasks snapshot", err, op)
		}
	}
	s.commit(next)
	s.logger.Info("tasks loaded",
		zap.Int("tasks", len(next.Tasks)),
		zap.Int64("counter", next.Counter),
	)
	return nil
}

// Replace decodes doc like Load does, then persists and commits it.
// A document that can not be decoded is a validation error.
func (s *Store) Replace(ctx context.Context, doc []byte) error {
	const op = "state.Store.Replace"

	next, err := s.decode(doc, op)
	if err != nil {
		return core.NewValidationError("invalid snapshot document", err, op)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.persistAndCommit(ctx, next, op)
}

// View calls fn with the committed state. fn must not modify or retain it.
func (s *Store) View(fn func(*State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.committed)
}

// Export encodes the committed state.
func (s *Store) Export() ([]byte, error) {
	const op = "state.Store.Export"
	s.mu.RLock()
	doc := s.committed.document()
	data, err := snapshot.Encode(doc)
	s.mu.RUnlock()
	if err != nil {
		return nil, core.NewInternalError("encode tasks", err, op)
	}
	return data, nil
}

func (s *Store) persistAndCommit(ctx context.Context, staged *State, op string) error {
	data, err := snapshot.Encode(staged.document())
	if err != nil {
		return core.NewInternalError("encode tasks", err, op)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		s.logger.Warn("save failed, change rolled back",
			zap.String("op", op),
			zap.Error(err),
		)
		return core.NewStorageError("persist tasks", err, op)
	}
	s.commit(staged)
	return nil
}

func (s *Store) commit(next *State) {
	s.mu.Lock()
	s.committed = next
	s.mu.Unlock()
}

func (s *Store) decode(data []byte, op string) (*State, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	dec, err := snapshot.Decode(data, s.now())
	if err != nil {
		return nil, err
	}
	for _, sk := range dec.Skipped {
		s.logger.Warn("skipped invalid task record",
			zap.String("op", op),
			zap.Int("index", sk.Index),
			zap.String("reason", sk.Reason),
		)
	}

	next := newState()
	for _, t := range dec.Tasks {
		if _, dup := next.Tasks[t.ID]; dup {
			s.logger.Warn("duplicate task id, later record wins",
				zap.String("op", op),
				zap.Int64("task_id", t.ID),
			)
		}
		next.Tasks[t.ID] = t
	}
	next.Order = dec.Order
	if dec.Counter != nil {
		next.Counter = *dec.Counter
	}
	next.heal()
	return next, nil
}
