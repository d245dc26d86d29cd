package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mauzec/task-manager/internal/config"
	"github.com/mauzec/task-manager/internal/state"
	"github.com/mauzec/task-manager/internal/storage"
	"github.com/mauzec/task-manager/internal/storage/snapshot"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const sampleDoc = `{
  "tasks": [
    {"id": 2, "title": "Write report", "description": null, "completed": false,
     "created_at": "2025-01-02T10:00:00Z", "completed_at": null},
    {"id": 5, "title": "Call Bob", "description": "about the trip", "completed": true,
     "created_at": "2025-01-03T10:00:00Z", "completed_at": "2025-01-04T09:30:00Z"}
  ],
  "order": [5, 2],
  "counter": 7
}`

func fileConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		StorageMode: config.StorageModeFile,
		DataFile:    filepath.Join(t.TempDir(), "tasks.json"),
		KVKey:       storage.DefaultKVKey,
	}
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config-dir", t.TempDir()}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOpenBackend_Modes(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	testCases := []struct {
		name string
		cfg  *config.AppConfig
	}{
		{name: "file", cfg: &config.AppConfig{StorageMode: config.StorageModeFile, DataFile: filepath.Join(dir, "tasks.json")}},
		{name: "bbolt", cfg: &config.AppConfig{StorageMode: config.StorageModeBolt, BoltPath: filepath.Join(dir, "tasks.db")}},
		{name: "sqlite", cfg: &config.AppConfig{StorageMode: config.StorageModeSQLite, SQLitePath: filepath.Join(dir, "tasks.sqlite"), KVKey: "k"}},
		{name: "redis", cfg: &config.AppConfig{StorageMode: config.StorageModeRedis, RedisURL: "redis://" + mr.Addr() + "/0", KVKey: "k"}},
		{name: "kv", cfg: &config.AppConfig{StorageMode: config.StorageModeKV, KVURL: "http://kv.invalid", KVToken: "t", KVKey: "k", KVTimeout: time.Second}},
		{name: "memory", cfg: &config.AppConfig{StorageMode: config.StorageModeMemory}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := openBackend(context.Background(), tc.cfg)
			require.NoError(t, err)
			require.NotNil(t, b)
			require.NoError(t, b.Close())
		})
	}
}

func fieldMap(fields []zap.Field) map[string]any {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}

func TestBackendFields(t *testing.T) {
	cfg := fileConfig(t)
	b, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer b.Close()

	got := fieldMap(backendFields(b))
	require.Equal(t, "file", got["backend"])
	require.Equal(t, cfg.DataFile, got["path"])

	got = fieldMap(backendFields(storage.NewMemoryBackend(nil)))
	require.Equal(t, "*storage.MemoryBackend", got["backend"])
	require.Nil(t, backendFields(nil))
}

func TestOpenBackend_UnknownMode(t *testing.T) {
	_, err := openBackend(context.Background(), &config.AppConfig{StorageMode: "tape"})
	require.ErrorContains(t, err, "unknown storage mode")
}

func TestNewAppComponent_Seed(t *testing.T) {
	cfg := fileConfig(t)
	cfg.SeedFile = filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(cfg.SeedFile, []byte(sampleDoc), 0o644))

	comp, err := newAppComponent(context.Background(), cfg, zap.NewNop(), true)
	require.NoError(t, err)
	tasks, err := comp.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, int64(5), tasks[0].ID)

	require.NoError(t, comp.svc.Delete(context.Background(), 5))
	comp.close(zap.NewNop())

	// the backend is no longer empty, the seed is not applied again
	comp, err = newAppComponent(context.Background(), cfg, zap.NewNop(), true)
	require.NoError(t, err)
	defer comp.close(zap.NewNop())
	tasks, err = comp.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, int64(2), tasks[0].ID)
}

func TestNewAppComponent_MissingSeedIgnored(t *testing.T) {
	cfg := fileConfig(t)
	cfg.SeedFile = filepath.Join(t.TempDir(), "absent.json")

	comp, err := newAppComponent(context.Background(), cfg, zap.NewNop(), true)
	require.NoError(t, err)
	defer comp.close(zap.NewNop())

	comp.store.View(func(s *state.State) {
		require.Empty(t, s.Tasks)
	})
}

func TestNewAppComponent_CorruptStore(t *testing.T) {
	cfg := fileConfig(t)
	require.NoError(t, os.WriteFile(cfg.DataFile, []byte("{not json"), 0o644))

	_, err := newAppComponent(context.Background(), cfg, zap.NewNop(), true)
	require.Error(t, err)

	comp, err := newAppComponent(context.Background(), cfg, zap.NewNop(), false)
	require.NoError(t, err)
	defer comp.close(zap.NewNop())
	comp.store.View(func(s *state.State) {
		require.Empty(t, s.Tasks)
	})

	// the unreadable file is left alone until something is written
	data, err := os.ReadFile(cfg.DataFile)
	require.NoError(t, err)
	require.Equal(t, "{not json", string(data))
}

func TestImportExport_JSON(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "tasks.json")
	t.Setenv("STORAGE_MODE", config.StorageModeFile)
	t.Setenv("TASKS_DATA_FILE", dataFile)

	in := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(in, []byte(sampleDoc), 0o644))

	out, err := runRoot(t, "import", in)
	require.NoError(t, err)
	require.Contains(t, out, "imported 2 tasks into file storage")

	out, err = runRoot(t, "export")
	require.NoError(t, err)

	dec, err := snapshot.Decode([]byte(out), time.Now())
	require.NoError(t, err)
	require.Empty(t, dec.Skipped)
	require.Equal(t, []int64{5, 2}, dec.Order)
	require.NotNil(t, dec.Counter)
	require.Equal(t, int64(7), *dec.Counter)
	require.Equal(t, "Call Bob", dec.Tasks[0].Title)
}

func TestImportExport_YAML(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "tasks.json")
	t.Setenv("STORAGE_MODE", config.StorageModeFile)
	t.Setenv("TASKS_DATA_FILE", dataFile)

	in := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(in, []byte(sampleDoc), 0o644))
	_, err := runRoot(t, "import", in)
	require.NoError(t, err)

	yamlFile := filepath.Join(t.TempDir(), "tasks.yaml")
	_, err = runRoot(t, "export", "--format", "yaml", "-o", yamlFile)
	require.NoError(t, err)
	raw, err := os.ReadFile(yamlFile)
	require.NoError(t, err)
	require.Contains(t, string(raw), "title: Write report")
	require.Contains(t, string(raw), "counter: 7")

	// a fresh store fed with the yaml export ends up with the same document
	t.Setenv("TASKS_DATA_FILE", filepath.Join(t.TempDir(), "other.json"))
	_, err = runRoot(t, "import", yamlFile)
	require.NoError(t, err)
	out, err := runRoot(t, "export")
	require.NoError(t, err)

	dec, err := snapshot.Decode([]byte(out), time.Now())
	require.NoError(t, err)
	require.Len(t, dec.Tasks, 2)
	require.Equal(t, []int64{5, 2}, dec.Order)
	require.NotNil(t, dec.Tasks[0].CompletedAt)
	require.True(t, dec.Tasks[0].CompletedAt.Equal(time.Date(2025, 1, 4, 9, 30, 0, 0, time.UTC)))
}

func TestImport_InvalidDocument(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "tasks.json")
	t.Setenv("STORAGE_MODE", config.StorageModeFile)
	t.Setenv("TASKS_DATA_FILE", dataFile)

	in := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(in, []byte("[1, 2"), 0o644))

	_, err := runRoot(t, "import", in)
	require.Error(t, err)
	_, statErr := os.Stat(dataFile)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestExport_UnknownFormat(t *testing.T) {
	_, err := runRoot(t, "export", "--format", "xml")
	require.ErrorContains(t, err, "unknown format")
}

func TestImport_NeedsFile(t *testing.T) {
	_, err := runRoot(t, "import")
	require.Error(t, err)
}
