// Package config handles configuration settings for the filesystem service.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable the filesystem service reads at startup: the
// RPC/HTTP listen address, the data directory (sqlite DSN + cold/warm tier
// roots), blob tier thresholds, the orphan cleanup scheduler's parameters,
// and the watch broadcaster's batching/rate-limit/heartbeat defaults.
type Config struct {
	Addr        string `koanf:"addr" validate:"required,ip_port"`
	DataDir     string `koanf:"data_dir" validate:"required,custom_path"`
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,ip_port"`

	HotThresholdBytes int64 `koanf:"hot_threshold_bytes" validate:"required,gt=0"`
	BlobCacheSize     int   `koanf:"blob_cache_size" validate:"required,gt=0"`
	MaxSymlinkHops    int   `koanf:"max_symlink_hops" validate:"required,gt=0"`

	CleanupMinOrphanCount int   `koanf:"cleanup_min_orphan_count" validate:"gte=0"`
	CleanupMinOrphanAgeMs int64 `koanf:"cleanup_min_orphan_age_ms" validate:"gte=0"`
	CleanupBatchSize      int   `koanf:"cleanup_batch_size" validate:"required,gt=0"`
	CleanupAsync          bool  `koanf:"cleanup_async"`

	WatchBatchWindowMs       int64 `koanf:"watch_batch_window_ms" validate:"required,gt=0"`
	WatchMaxBatchSize        int   `koanf:"watch_max_batch_size" validate:"required,gt=0"`
	WatchRateWindowMs        int64 `koanf:"watch_rate_window_ms" validate:"required,gt=0"`
	WatchRateMaxMessages     int   `koanf:"watch_rate_max_messages" validate:"required,gt=0"`
	WatchBurstWindowMs       int64 `koanf:"watch_burst_window_ms" validate:"required,gt=0"`
	WatchBurstMaxMessages    int   `koanf:"watch_burst_max_messages" validate:"required,gt=0"`
	WatchHeartbeatIntervalMs int64 `koanf:"watch_heartbeat_interval_ms" validate:"required,gt=0"`
	WatchMaxMissedPongs      int   `koanf:"watch_max_missed_pongs" validate:"required,gt=0"`
	WatchIdleTimeoutMs       int64 `koanf:"watch_idle_timeout_ms" validate:"required,gt=0"`
	WatchMaxSubscribers      int   `koanf:"watch_max_subscribers" validate:"required,gt=0"`
	WatchMaxPatternsPerSub   int   `koanf:"watch_max_patterns_per_subscriber" validate:"required,gt=0"`
}

// DefaultAppConfig provides the default service configuration values.
var DefaultAppConfig = Config{
	Addr:              ":8080",
	DataDir:           "/data",
	MetricsAddr:       "", // disabled by default
	HotThresholdBytes: 1 << 20,
	BlobCacheSize:     4096,
	MaxSymlinkHops:    40,

	CleanupMinOrphanCount: 10,
	CleanupMinOrphanAgeMs: 60_000,
	CleanupBatchSize:      100,
	CleanupAsync:          true,

	WatchBatchWindowMs:       10,
	WatchMaxBatchSize:        50,
	WatchRateWindowMs:        1_000,
	WatchRateMaxMessages:     100,
	WatchBurstWindowMs:       100,
	WatchBurstMaxMessages:    20,
	WatchHeartbeatIntervalMs: 30_000,
	WatchMaxMissedPongs:      3,
	WatchIdleTimeoutMs:       90_000,
	WatchMaxSubscribers:      1000,
	WatchMaxPatternsPerSub:   100,
}

// defaultLoader loads default configuration values into the provided Koanf
// instance using the structs provider and the DefaultAppConfig struct.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

// envLoader loads environment variables with the prefix "FSX_", lower-cased
// with the prefix stripped; comma-separated values become string slices.
// Swappable in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{Prefix: "FSX_", TransformFunc: func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, "FSX_"))
		if strings.Contains(value, ",") {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, strings.TrimSpace(value)
	}}), nil)
}

// validIPPort validates whether the provided field value is parseable by
// net.Listen(). Examples: ":8080", "127.0.0.1:8080".
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if ip != "" && net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// validDirNotExists checks that the provided value is a directory path, but
// does not require it to exist: no empty string, ".", root, or upward
// traversal via "..".
func validDirNotExists(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return false
	}
	cleaned := filepath.Clean(raw)
	if cleaned == "." || cleaned == string(os.PathSeparator) {
		return false
	}
	for _, part := range strings.Split(cleaned, string(os.PathSeparator)) {
		if part == ".." {
			return false
		}
	}
	return true
}

// registerValidators registers custom validation functions with the
// provided validator instance.
var registerValidators = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("custom_path", validDirNotExists)
}

// Load loads the configuration by applying default values and overriding
// them with FSX_-prefixed environment variables, then validates the
// result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, err
	}
	if err := envLoader(k); err != nil {
		return nil, err
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(validate); err != nil {
		return nil, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SQLiteDSN returns the hardened SQLite DSN derived from DataDir: WAL mode,
// foreign keys, busy timeout, and FULL synchronous, per the metadata
// store's single-writer durability requirement.
func (c *Config) SQLiteDSN() string {
	dbPath := filepath.Join(c.DataDir, "fsx.db")
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL", dbPath)
}

// ColdTierDir returns the directory the cold tier stores blob files under.
func (c *Config) ColdTierDir() string { return filepath.Join(c.DataDir, "cold") }

// WarmTierDir returns the directory the embedded badger warm tier opens.
func (c *Config) WarmTierDir() string { return filepath.Join(c.DataDir, "warm") }
