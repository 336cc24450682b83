package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of a meshhub node.
type Config struct {
	Node struct {
		ID         string `mapstructure:"id"`
		Name       string `mapstructure:"name"`
		Kind       string `mapstructure:"kind"` // "hub" or "game"
		Hub        bool   `mapstructure:"hub"`
		Priority   int    `mapstructure:"priority"`
		MaxPlayers int    `mapstructure:"max_players"`
		Address    string `mapstructure:"address"`
	} `mapstructure:"node"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	NATS struct {
		URL      string `mapstructure:"url"`
		Embedded bool   `mapstructure:"embedded"`
		Listen   string `mapstructure:"listen"`
	} `mapstructure:"nats"`

	Engine struct {
		Socket string `mapstructure:"socket"`
	} `mapstructure:"engine"`

	Heartbeat struct {
		Interval         time.Duration `mapstructure:"interval"`
		CheckInterval    time.Duration `mapstructure:"check_interval"`
		Timeout          time.Duration `mapstructure:"timeout"`
		FailureThreshold int           `mapstructure:"failure_threshold"`
	} `mapstructure:"heartbeat"`

	Queue struct {
		Enabled          bool          `mapstructure:"enabled"`
		MaxSize          int           `mapstructure:"max_size"`
		AutoJoinOnFull   bool          `mapstructure:"auto_join_on_full"`
		DrainInterval    time.Duration `mapstructure:"drain_interval"`
		RequeueOnFailure bool          `mapstructure:"requeue_on_failure"`
	} `mapstructure:"queue"`

	Teleporter struct {
		ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
		DefaultCooldown     time.Duration `mapstructure:"default_cooldown"`
	} `mapstructure:"teleporter"`

	Fallback struct {
		Enabled           bool          `mapstructure:"enabled"`
		TriggerOnShutdown bool          `mapstructure:"trigger_on_shutdown"`
		TransferDelay     time.Duration `mapstructure:"transfer_delay"`
	} `mapstructure:"fallback"`

	Admin struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"admin"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// Load reads configuration from the given file (optional), environment
// variables prefixed with MESHHUB_, and built-in defaults, in that order of
// increasing precedence for env over file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshhub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/meshhub")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MESHHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the coordination layer cannot run with.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Node.MaxPlayers <= 0 {
		return fmt.Errorf("node.max_players must be positive")
	}
	if c.Heartbeat.FailureThreshold < 2 {
		return fmt.Errorf("heartbeat.failure_threshold must be at least 2")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.name", "Game Server")
	v.SetDefault("node.kind", "game")
	v.SetDefault("node.hub", false)
	v.SetDefault("node.priority", 0)
	v.SetDefault("node.max_players", 100)

	v.SetDefault("database.dsn", "meshhub.db")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.listen", "0.0.0.0:4222")

	v.SetDefault("engine.socket", "/var/run/meshhub-engine.sock")

	v.SetDefault("heartbeat.interval", 10*time.Second)
	v.SetDefault("heartbeat.check_interval", 15*time.Second)
	v.SetDefault("heartbeat.timeout", 30*time.Second)
	v.SetDefault("heartbeat.failure_threshold", 3)

	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.max_size", 100)
	v.SetDefault("queue.auto_join_on_full", true)
	v.SetDefault("queue.drain_interval", 2*time.Second)
	v.SetDefault("queue.requeue_on_failure", false)

	v.SetDefault("teleporter.confirmation_timeout", 10*time.Second)
	v.SetDefault("teleporter.default_cooldown", 5*time.Second)

	v.SetDefault("fallback.enabled", true)
	v.SetDefault("fallback.trigger_on_shutdown", true)
	v.SetDefault("fallback.transfer_delay", time.Second)

	v.SetDefault("admin.listen", "127.0.0.1:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
