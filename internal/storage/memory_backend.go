package storage

import (
	"context"
	"errors"
	"sync"
)

// MemoryBackend holds the snapshot in process memory. Nothing survives a restart.
// FailSaves makes every Save fail, tests use it to exercise rollbacks.
type MemoryBackend struct {
	mu        sync.Mutex
	doc       []byte
	saves     int
	failSaves error
}

func NewMemoryBackend(initial []byte) *MemoryBackend {
	return &MemoryBackend{doc: append([]byte(nil), initial...)}
}

func (b *MemoryBackend) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.doc) == 0 {
		return nil, nil
	}
	return append([]byte(nil), b.doc...), nil
}

func (b *MemoryBackend) Save(ctx context.Context, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	} else if len(doc) == 0 {
		return errors.New("storage: refusing to save empty snapshot")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSaves != nil {
		return b.failSaves
	}
	b.doc = append([]byte(nil), doc...)
	b.saves++
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

// FailSaves makes subsequent saves return err; nil restores normal behaviour.
func (b *MemoryBackend) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSaves = err
}

// Saves reports how many saves succeeded.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}
