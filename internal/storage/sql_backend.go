package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type snapshotRecord struct {
	Key       string `gorm:"column:snapshot_key;primaryKey"`
	Data      string `gorm:"not null"`
	UpdatedAt time.Time
}

func (snapshotRecord) TableName() string {
	return "snapshots"
}

// SQLBackend keeps the snapshot as one row of a SQLite table.
type SQLBackend struct {
	db  *gorm.DB
	key string
}

func NewSQLiteBackend(path, key string) (*SQLBackend, error) {
	if path == "" {
		return nil, errors.New("storage: required sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create sqlite dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		closeGorm(db)
		return nil, fmt.Errorf("storage: migrate sqlite: %w", err)
	}
	if key == "" {
		key = DefaultKVKey
	}
	return &SQLBackend{db: db, key: key}, nil
}

func (b *SQLBackend) Load(ctx context.Context) ([]byte, error) {
	rec := snapshotRecord{}
	err := b.db.WithContext(ctx).First(&rec, "snapshot_key = ?", b.key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: sqlite load: %w", err)
	}
	if rec.Data == "" {
		return nil, fmt.Errorf("storage: sqlite row %s is empty", b.key)
	}
	return []byte(rec.Data), nil
}

func (b *SQLBackend) Save(ctx context.Context, doc []byte) error {
	if len(doc) == 0 {
		return errors.New("storage: refusing to save empty snapshot")
	}
	rec := snapshotRecord{Key: b.key, Data: string(doc)}
	err := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "snapshot_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("storage: sqlite save: %w", err)
	}
	return nil
}

func (b *SQLBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("storage: sqlite handle: %w", err)
	}
	return sqlDB.Close()
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
