package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. QUESTLEDGER_SERVER_PORT.
const EnvPrefix = "QUESTLEDGER"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// LedgerConfig controls where and how progress state is persisted.
type LedgerConfig struct {
	Backend          string        `mapstructure:"backend"` // cache | db
	StorageKey       string        `mapstructure:"storage_key"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"` // 0 disables
	SnapshotKeep     int           `mapstructure:"snapshot_keep"`
	ChangeChannel    string        `mapstructure:"change_channel"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// MaxImportBytes caps the size of an uploaded progress document.
	MaxImportBytes int64 `mapstructure:"max_import_bytes"`
	// AllowedOrigins limits WebSocket origins. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/questledger.db")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.mysql_max_open", 20)
	v.SetDefault("database.mysql_max_idle", 5)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("ledger.backend", "db")
	v.SetDefault("ledger.storage_key", "quest-progress-storage")
	v.SetDefault("ledger.persist_timeout", "2s")
	v.SetDefault("ledger.retry_interval", "10s")
	v.SetDefault("ledger.snapshot_interval", "15m")
	v.SetDefault("ledger.snapshot_keep", 20)
	v.SetDefault("ledger.change_channel", "progress")
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)
	v.SetDefault("security.max_import_bytes", 8<<20)
	v.SetDefault("security.allowed_origins", []string{})
}

// Load reads config from the given YAML file path. A missing file is not an
// error when path is empty; defaults and environment overrides still apply.
// Variables from a .env file in the working directory are loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Ledger.Backend {
	case "cache", "db":
	default:
		return errors.New("config: ledger.backend must be \"cache\" or \"db\"")
	}
	if c.Ledger.StorageKey == "" {
		return errors.New("config: ledger.storage_key must not be empty")
	}
	return nil
}
