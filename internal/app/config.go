package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/aegis-mobile/synccore/pkg/validator"
)

// Config represents the runtime configuration for the sync core daemon.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Keystore    KeystoreConfig    `mapstructure:"keystore"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Network     NetworkConfig     `mapstructure:"network"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the local ops/diagnostics HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port" json:"port" validate:"gte=0,lte=65535"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// DatabaseConfig describes the encrypted local store. EncryptionKey, when
// set, overrides the file keystore with a hex/base64 key from the
// environment; leave it empty to let the daemon manage its own key file.
type DatabaseConfig struct {
	Path          string `mapstructure:"path" json:"path"`
	EncryptionKey string `mapstructure:"encryption_key" json:"-"`
}

// KeystoreConfig locates the device key file.
type KeystoreConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// CacheConfig bounds the managed cache.
type CacheConfig struct {
	BudgetMB int64 `mapstructure:"budget_mb" json:"budget_mb" validate:"gt=0"`
}

// QueueConfig tunes action queue delivery and retry behaviour.
type QueueConfig struct {
	BatchSize     int           `mapstructure:"batch_size" json:"batch_size" validate:"gt=0"`
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries" validate:"gte=0"`
	BaseDelay     time.Duration `mapstructure:"base_delay" json:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay" json:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor" json:"backoff_factor" validate:"gte=1"`
}

// SyncConfig points the orchestrator at the backend and tunes its cycles.
type SyncConfig struct {
	BaseURL                string        `mapstructure:"base_url" json:"base_url" validate:"omitempty,url"`
	Token                  string        `mapstructure:"token" json:"-"`
	DeviceID               string        `mapstructure:"device_id" json:"device_id"`
	FullSchedule           string        `mapstructure:"full_schedule" json:"full_schedule"`
	IncrementalSchedule    string        `mapstructure:"incremental_schedule" json:"incremental_schedule"`
	SettleDelay            time.Duration `mapstructure:"settle_delay" json:"settle_delay"`
	UploadChunkSize        int           `mapstructure:"upload_chunk_size" json:"upload_chunk_size" validate:"gt=0"`
	IncrementalUploadLimit int           `mapstructure:"incremental_upload_limit" json:"incremental_upload_limit" validate:"gt=0"`
}

// NetworkConfig drives the reachability probe.
type NetworkConfig struct {
	ProbeURL      string        `mapstructure:"probe_url" json:"probe_url" validate:"omitempty,url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" json:"probe_interval"`
}

// MaintenanceConfig schedules the background cleanup jobs.
type MaintenanceConfig struct {
	RetentionSchedule string `mapstructure:"retention_schedule" json:"retention_schedule"`
	OptimizeSchedule  string `mapstructure:"optimize_schedule" json:"optimize_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
}

// HealthConfig toggles the health endpoint.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SYNCCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.ValidateStruct(config); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8600)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.path", "./data/synccore.sqlite")
	v.SetDefault("database.encryption_key", "")

	v.SetDefault("keystore.path", "./data/device.key")

	v.SetDefault("cache.budget_mb", 100)

	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.base_delay", "2s")
	v.SetDefault("queue.max_delay", "5m")
	v.SetDefault("queue.backoff_factor", 2.0)

	v.SetDefault("sync.base_url", "")
	v.SetDefault("sync.token", "")
	v.SetDefault("sync.device_id", "")
	v.SetDefault("sync.full_schedule", "@hourly")
	v.SetDefault("sync.incremental_schedule", "@every 5m")
	v.SetDefault("sync.settle_delay", "10s")
	v.SetDefault("sync.upload_chunk_size", 50)
	v.SetDefault("sync.incremental_upload_limit", 10)

	v.SetDefault("network.probe_url", "")
	v.SetDefault("network.probe_interval", "30s")

	v.SetDefault("maintenance.retention_schedule", "@daily")
	v.SetDefault("maintenance.optimize_schedule", "@hourly")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
