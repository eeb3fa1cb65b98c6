package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Platforms    PlatformsConfig `mapstructure:"platforms"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
	Tenants      []TenantConfig  `mapstructure:"tenants"`
}

// TenantConfig seeds the tenant directory of the memory store.
type TenantConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Platform string `mapstructure:"platform"`
	ServerID string `mapstructure:"server_id"`
	AutoSync bool   `mapstructure:"auto_sync"`
}

type DatabaseConnection struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type StateStorage struct {
	Type               string `mapstructure:"type"` // mysql or memory
	DatabaseConnection `mapstructure:",squash"`
	ConnectRetries     int `mapstructure:"connect_retries"`
}

type SyncConfig struct {
	Workers        int           `mapstructure:"workers"`
	WorkerIDPrefix string        `mapstructure:"worker_id_prefix"`
	PageSize       int           `mapstructure:"page_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     string        `mapstructure:"interval"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
}

type PlatformsConfig struct {
	Discord DiscordConfig `mapstructure:"discord"`
}

type DiscordConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads the YAML file at path (if it exists) and overlays
// ARCHIVE_SYNC_* environment variables, e.g. ARCHIVE_SYNC_SYNC_WORKERS.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("ARCHIVE_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Sync.WorkerIDPrefix == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker"
		}
		cfg.Sync.WorkerIDPrefix = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_storage.type", "mysql")
	v.SetDefault("state_storage.host", "127.0.0.1")
	v.SetDefault("state_storage.port", 3306)
	v.SetDefault("state_storage.database", "archive")
	v.SetDefault("state_storage.connect_retries", 30)

	v.SetDefault("sync.workers", 10)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.max_attempts", 3)
	v.SetDefault("sync.backoff_base", time.Second)
	v.SetDefault("sync.backoff_max", 5*time.Minute)
	v.SetDefault("sync.cooldown", 0)
	v.SetDefault("sync.queue_capacity", 10000)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "@every 30m")
	v.SetDefault("scheduler.lease_timeout", 0)

	v.SetDefault("platforms.discord.base_url", "https://discord.com/api/v10")
	v.SetDefault("platforms.discord.timeout", 30*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) Validate() error {
	switch c.StateStorage.Type {
	case "mysql", "memory":
	default:
		return fmt.Errorf("unsupported state_storage.type %q", c.StateStorage.Type)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 100 {
		return fmt.Errorf("sync.page_size must be in 1..100, got %d", c.Sync.PageSize)
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive, got %d", c.Sync.MaxAttempts)
	}
	if c.Platforms.Discord.Enabled && c.Platforms.Discord.Token == "" {
		return fmt.Errorf("platforms.discord.token is required when discord is enabled")
	}
	for i, t := range c.Tenants {
		if t.ID == "" || t.Platform == "" || t.ServerID == "" {
			return fmt.Errorf("tenants[%d] needs id, platform and server_id", i)
		}
	}
	return nil
}
