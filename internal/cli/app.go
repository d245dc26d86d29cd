package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mauzec/task-manager/internal/config"
	"github.com/mauzec/task-manager/internal/service"
	"github.com/mauzec/task-manager/internal/state"
	"github.com/mauzec/task-manager/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const startupTimeout = 30 * time.Second

func newLogger(outputs []string, logFile string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = outputs
	cfg.ErrorOutputPaths = []string{"stderr"}
	if logFile != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logFile)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, logFile)
	}
	return cfg.Build()
}

// appComponent is everything behind the HTTP layer, built once per process.
type appComponent struct {
	backend storage.Backend
	store   *state.Store
	svc     *service.TaskService
}

func openBackend(ctx context.Context, cfg *config.AppConfig) (storage.Backend, error) {
	switch cfg.ResolveStorageMode() {
	case config.StorageModeFile:
		return storage.NewFileBackend(cfg.DataFile)
	case config.StorageModeKV:
		return storage.NewKVBackend(storage.KVOptions{
			BaseURL: cfg.KVURL,
			Token:   cfg.KVToken,
			Key:     cfg.KVKey,
			Timeout: cfg.KVTimeout,
		})
	case config.StorageModeBolt:
		return storage.NewBoltBackend(cfg.BoltPath)
	case config.StorageModeRedis:
		return storage.NewRedisBackend(ctx, cfg.RedisURL, cfg.KVKey)
	case config.StorageModeSQLite:
		return storage.NewSQLiteBackend(cfg.SQLitePath, cfg.KVKey)
	case config.StorageModeMemory:
		return storage.NewMemoryBackend(nil), nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
}

// newAppComponent opens the backend and loads the tasks. With strict unset a
// failed load is logged and the component starts empty.
func newAppComponent(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, strict bool) (*appComponent, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.ResolveStorageMode(), err)
	}
	store, err := state.New(backend, logger.Named("store"), time.Now)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	svc, err := service.NewTaskService(store, time.Now)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	c := &appComponent{backend: backend, store: store, svc: svc}

	loadCtx, canc := context.WithTimeout(ctx, startupTimeout)
	defer canc()
	if err := store.Load(loadCtx); err != nil {
		if strict {
			_ = backend.Close()
			return nil, err
		}
		logger.Error("cant load tasks, starting empty", zap.Error(err))
		return c, nil
	}

	if cfg.SeedFile != "" {
		if err := c.seed(loadCtx, cfg.SeedFile, logger); err != nil {
			logger.Warn("cant seed tasks", zap.String("seed_file", cfg.SeedFile), zap.Error(err))
		}
	}
	return c, nil
}

// seed imports path when nothing has been stored yet.
func (c *appComponent) seed(ctx context.Context, path string, logger *zap.Logger) error {
	empty := false
	c.store.View(func(s *state.State) {
		empty = len(s.Tasks) == 0 && s.Counter == 0
	})
	if !empty {
		return nil
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := c.svc.Import(ctx, doc); err != nil {
		return err
	}
	logger.Info("tasks seeded", zap.String("seed_file", path))
	return nil
}

// backendFields names where b keeps the tasks, for the startup log.
func backendFields(b storage.Backend) []zap.Field {
	switch b := b.(type) {
	case *storage.FileBackend:
		return []zap.Field{zap.String("backend", "file"), zap.String("path", b.Path())}
	case nil:
		return nil
	default:
		return []zap.Field{zap.String("backend", fmt.Sprintf("%T", b))}
	}
}

func (c *appComponent) close(logger *zap.Logger) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Close(); err != nil {
		logger.Error("cant close backend", zap.Error(err))
	}
	c.backend = nil
}
