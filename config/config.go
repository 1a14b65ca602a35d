// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chhz0/baybikes/core"
	"github.com/chhz0/baybikes/logger"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	LogLevel        string        `yaml:"log_level"`
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Cluster         bool          `yaml:"cluster"`
	Storage         StorageConfig `yaml:"storage"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		QueueSize:       100,
		Workers:         4,
		SyncInterval:    3 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Storage: StorageConfig{
			Backend: BackendMemory,
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
	}
}

// Load 读取yaml（path为空时只用默认值），再加载.env和环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// .env 不存在不算错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return &core.ValidationError{Field: key, Message: err.Error()}
			}
			*dst = n
		}
		return nil
	}

	setString("BAYBIKES_HTTP_ADDR", &c.HTTPAddr)
	setString("BAYBIKES_LOG_LEVEL", &c.LogLevel)
	setString("BAYBIKES_STORAGE_BACKEND", &c.Storage.Backend)
	setString("BAYBIKES_STORAGE_PATH", &c.Storage.Path)
	setString("BAYBIKES_REDIS_ADDR", &c.Storage.Redis.Addr)
	setString("BAYBIKES_REDIS_PASSWORD", &c.Storage.Redis.Password)

	for key, dst := range map[string]*int{
		"BAYBIKES_QUEUE_SIZE": &c.QueueSize,
		"BAYBIKES_WORKERS":    &c.Workers,
		"BAYBIKES_REDIS_DB":   &c.Storage.Redis.DB,
	} {
		if err := setInt(key, dst); err != nil {
			return err
		}
	}

	if v := getenv("BAYBIKES_CLUSTER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &core.ValidationError{Field: "BAYBIKES_CLUSTER", Message: err.Error()}
		}
		c.Cluster = b
	}
	return nil
}

// Validate 检查配置项
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return &core.ValidationError{Field: "http_addr", Message: "cannot be empty"}
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return &core.ValidationError{Field: "log_level", Message: err.Error()}
	}
	if c.QueueSize <= 0 {
		return &core.ValidationError{Field: "queue_size", Message: "must be positive"}
	}
	if c.Workers <= 0 {
		return &core.ValidationError{Field: "workers", Message: "must be positive"}
	}
	if c.SyncInterval <= 0 {
		return &core.ValidationError{Field: "sync_interval", Message: "must be positive"}
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBolt, BackendSQLite:
		if c.Storage.Path == "" {
			return &core.ValidationError{Field: "storage.path", Message: fmt.Sprintf("required for %s backend", c.Storage.Backend)}
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return &core.ValidationError{Field: "storage.redis.addr", Message: "required for redis backend"}
		}
	default:
		return &core.ValidationError{Field: "storage.backend", Message: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}

	// 集群节点之间必须共享同一个存储
	if c.Cluster && c.Storage.Backend != BackendRedis {
		return &core.ValidationError{Field: "cluster", Message: "cluster mode needs the redis storage backend"}
	}
	return nil
}
