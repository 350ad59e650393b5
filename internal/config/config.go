package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CHATSYNC"
	defaultHTTPAddress     = "127.0.0.1:8090"
	defaultDatabasePath    = "chatsync.db"
	defaultLogLevel        = "info"
	defaultMaxMessages     = 100
	defaultMaxEvents       = 500
	defaultMaxMissing      = 30
	defaultFetchTimeoutSec = 30
	defaultRemoteBaseURL   = "http://127.0.0.1:8095"
)

// AppConfig captures runtime configuration for the sync daemon.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	UserID        string
	RemoteBaseURL string
	SignalsURL    string
	MaxMessages   int
	MaxEvents     int
	MaxMissing    int
	FetchTimeout  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("sync.max_messages", defaultMaxMessages)
	configViper.SetDefault("sync.max_events", defaultMaxEvents)
	configViper.SetDefault("sync.max_missing", defaultMaxMissing)
	configViper.SetDefault("sync.fetch_timeout_seconds", defaultFetchTimeoutSec)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		UserID:        configViper.GetString("user.id"),
		RemoteBaseURL: configViper.GetString("remote.base_url"),
		SignalsURL:    configViper.GetString("signals.url"),
		MaxMessages:   configViper.GetInt("sync.max_messages"),
		MaxEvents:     configViper.GetInt("sync.max_events"),
		MaxMissing:    configViper.GetInt("sync.max_missing"),
		FetchTimeout:  time.Duration(configViper.GetInt("sync.fetch_timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (cfg AppConfig) validate() error {
	if strings.TrimSpace(cfg.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return fmt.Errorf("user.id is required")
	}
	if strings.TrimSpace(cfg.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if cfg.MaxMessages <= 0 {
		return fmt.Errorf("sync.max_messages must be positive, got %d", cfg.MaxMessages)
	}
	if cfg.MaxEvents < cfg.MaxMessages {
		return fmt.Errorf("sync.max_events (%d) must be at least sync.max_messages (%d)", cfg.MaxEvents, cfg.MaxMessages)
	}
	if cfg.MaxMissing <= 0 {
		return fmt.Errorf("sync.max_missing must be positive, got %d", cfg.MaxMissing)
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("sync.fetch_timeout_seconds must be positive")
	}
	return nil
}
