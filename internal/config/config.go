package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	StorageModeAuto   = "auto"
	StorageModeFile   = "file"
	StorageModeKV     = "kv"
	StorageModeBolt   = "bbolt"
	StorageModeRedis  = "redis"
	StorageModeSQLite = "sqlite"
	StorageModeMemory = "memory"
)

type AppConfig struct {
	ServerAddr       string        `mapstructure:"SERVER_ADDR" validate:"min=2"`
	GinMode          string        `mapstructure:"GIN_MODE" validate:"oneof=debug release test"`
	APIPrefix        string        `mapstructure:"API_PREFIX"`
	CORSAllowOrigins string        `mapstructure:"CORS_ALLOW_ORIGINS"`
	HandlerTimeout   time.Duration `mapstructure:"HANDLER_TIMEOUT" validate:"nonzero_duration"`
	ShutdownTimeout  time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"nonzero_duration"`
	LogFile          string        `mapstructure:"LOG_FILE"`

	StorageMode string `mapstructure:"STORAGE_MODE" validate:"oneof=auto file kv bbolt redis sqlite memory"`
	DataFile    string `mapstructure:"TASKS_DATA_FILE" validate:"min=1"`
	SeedFile    string `mapstructure:"SEED_FILE"`

	KVURL     string        `mapstructure:"KV_REST_API_URL" validate:"omitempty,url"`
	KVToken   string        `mapstructure:"KV_REST_API_TOKEN"`
	KVKey     string        `mapstructure:"KV_KEY" validate:"min=1"`
	KVTimeout time.Duration `mapstructure:"KV_TIMEOUT" validate:"nonzero_duration"`

	BoltPath   string `mapstructure:"BOLT_PATH" validate:"min=1"`
	RedisURL   string `mapstructure:"REDIS_URL" validate:"min=1"`
	SQLitePath string `mapstructure:"SQLITE_PATH" validate:"min=1"`
}

// envAliases are older variable names still honoured, the first name wins.
var envAliases = map[string][]string{
	"TASKS_DATA_FILE":   {"TASKS_DATA_FILE", "TASK_MANAGER_DATA_FILE"},
	"KV_REST_API_URL":   {"KV_REST_API_URL", "VERCEL_KV_REST_API_URL"},
	"KV_REST_API_TOKEN": {"KV_REST_API_TOKEN", "VERCEL_KV_REST_API_TOKEN"},
	"KV_KEY":            {"KV_KEY", "TASK_MANAGER_KV_KEY"},
}

func (c *AppConfig) Validate() error {
	v := validator.New()

	_ = v.RegisterValidation("nonzero_duration", func(fl validator.FieldLevel) bool {
		if d, ok := fl.Field().Interface().(time.Duration); ok {
			return d > 0
		} else {
			return false
		}
	})
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.StorageMode == StorageModeKV && (c.KVURL == "" || c.KVToken == "") {
		return errors.New("config: kv storage needs KV_REST_API_URL and KV_REST_API_TOKEN")
	}
	return nil
}

// ResolveStorageMode turns auto into a concrete mode: kv when the remote
// store is configured, file otherwise.
func (c *AppConfig) ResolveStorageMode() string {
	mode := strings.ToLower(strings.TrimSpace(c.StorageMode))
	if mode != StorageModeAuto && mode != "" {
		return mode
	}
	if c.KVURL != "" && c.KVToken != "" {
		return StorageModeKV
	}
	return StorageModeFile
}

// AllowOrigins splits CORS_ALLOW_ORIGINS on commas.
func (c *AppConfig) AllowOrigins() []string {
	var res []string
	for _, o := range strings.Split(c.CORSAllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			res = append(res, o)
		}
	}
	return res
}

// LoadAppConfig reads <name>.<ext> from the first path that has it, then the
// environment. A missing file is fine, every key has a default.
func LoadAppConfig(name, ext string, paths ...string) (*AppConfig, error) {
	v := viper.New()
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetConfigName(name)
	v.SetConfigType(ext)
	v.AutomaticEnv()

	v.SetDefault("SERVER_ADDR", ":8000")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("API_PREFIX", "/api")
	v.SetDefault("CORS_ALLOW_ORIGINS", "*")
	v.SetDefault("HANDLER_TIMEOUT", 30*time.Second)
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("STORAGE_MODE", StorageModeAuto)
	v.SetDefault("TASKS_DATA_FILE", "./data/tasks.json")
	v.SetDefault("SEED_FILE", "")
	v.SetDefault("KV_REST_API_URL", "")
	v.SetDefault("KV_REST_API_TOKEN", "")
	v.SetDefault("KV_KEY", "task-manager-state")
	v.SetDefault("KV_TIMEOUT", 5*time.Second)
	v.SetDefault("BOLT_PATH", "./data/tasks.db")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("SQLITE_PATH", "./data/tasks.sqlite")

	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.StorageMode = cfg.ResolveStorageMode()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
