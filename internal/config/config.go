package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "CAMPBOT"
	defaultDatabasePath = "camptocamp.db"
	defaultLogLevel     = "info"
	defaultLogMaxSizeMB = 50
	defaultAPIURL       = "https://api.camptocamp.org"
	defaultUIURL        = "https://www.camptocamp.org"
	defaultMinDelay     = time.Second
	defaultBatchSize    = 1000
	defaultOldestDate   = "1990-12-25"
	defaultHTTPAddress  = "127.0.0.1:8080"
	oldestDateLayout    = "2006-01-02"
)

// AppConfig captures runtime configuration for every command.
type AppConfig struct {
	DatabasePath     string
	LogLevel         string
	LogFile          string
	LogMaxSizeMB     int
	APIURL           string
	UIURL            string
	MinDelay         time.Duration
	Username         string
	Password         string
	BatchSize        int
	OldestDate       string
	HTTPAddress      string
	SigningSecret    string
	ReplacementsPath string
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

	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	configViper.SetDefault("remote.api_url", defaultAPIURL)
	configViper.SetDefault("remote.ui_url", defaultUIURL)
	configViper.SetDefault("remote.min_delay", defaultMinDelay)
	configViper.SetDefault("remote.username", "")
	configViper.SetDefault("remote.password", "")
	configViper.SetDefault("sync.batch_size", defaultBatchSize)
	configViper.SetDefault("sync.oldest_date", defaultOldestDate)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.signing_secret", "")
	configViper.SetDefault("fix.replacements", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		LogFile:          configViper.GetString("log.file"),
		LogMaxSizeMB:     configViper.GetInt("log.max_size_mb"),
		APIURL:           configViper.GetString("remote.api_url"),
		UIURL:            configViper.GetString("remote.ui_url"),
		MinDelay:         configViper.GetDuration("remote.min_delay"),
		Username:         configViper.GetString("remote.username"),
		Password:         configViper.GetString("remote.password"),
		BatchSize:        configViper.GetInt("sync.batch_size"),
		OldestDate:       configViper.GetString("sync.oldest_date"),
		HTTPAddress:      configViper.GetString("http.address"),
		SigningSecret:    configViper.GetString("http.signing_secret"),
		ReplacementsPath: configViper.GetString("fix.replacements"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// HasCredentials reports whether both bot login and password are set.
func (c AppConfig) HasCredentials() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MinDelay < 0 {
		return fmt.Errorf("remote.min_delay must not be negative, got %s", c.MinDelay)
	}
	if c.LogMaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be positive, got %d", c.LogMaxSizeMB)
	}
	if _, err := time.Parse(oldestDateLayout, c.OldestDate); err != nil {
		return fmt.Errorf("sync.oldest_date must be a YYYY-MM-DD date: %w", err)
	}
	for key, value := range map[string]string{"remote.api_url": c.APIURL, "remote.ui_url": c.UIURL} {
		parsed, err := url.Parse(value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, value)
		}
	}
	return nil
}
