package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

type BoltBackend struct {
	db *bolt.DB
}

const (
	boltSnapshotBucket = "task-manager"
	boltSnapshotKey    = "state"
)

func NewBoltBackend(path string) (*BoltBackend, error) {
	if path == "" {
		return nil, errors.New("storage:required bolt path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600,
		&bolt.Options{Timeout: time.Second},
	)
	if err != nil {
		return nil, fmt.Errorf("storage: opening bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists([]byte(boltSnapshotBucket))
		return berr
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: cant init bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltBackend) Load(ctx context.Context) ([]byte, error) {
	if b.db == nil {
		return nil, errors.New("storage: bolt not init")
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc []byte
	if err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltSnapshotBucket))
		if bucket == nil {
			return errors.New("storage: bucket miss")
		}
		// value is only valid inside the tx
		if v := bucket.Get([]byte(boltSnapshotKey)); v != nil {
			doc = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *BoltBackend) Save(ctx context.Context, doc []byte) error {
	if b.db == nil {
		return errors.New("storage: bolt not init")
	} else if len(doc) == 0 {
		return errors.New("storage: refusing to save empty snapshot")
	} else if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltSnapshotBucket))
		if bucket == nil {
			return errors.New("storage: bucket miss")
		}
		return bucket.Put([]byte(boltSnapshotKey), doc)
	})
}
