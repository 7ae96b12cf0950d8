package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/pkg/file"
)

// Cache backends.
const (
	CacheBackendFile   = "file"
	CacheBackendSQLite = "sqlite"
	CacheBackendMemory = "memory"
)

// Config represents the structure of the configuration file.
type Config struct {
	ThinQ struct {
		Username     string `yaml:"username"`      // Account e-mail
		Password     string `yaml:"password"`      // Account password
		RefreshToken string `yaml:"refresh_token"` // Optional refresh token used instead of a password
		Country      string `yaml:"country"`       // ISO country code, e.g. US
		Language     string `yaml:"language"`      // Language tag, e.g. en-US
	} `yaml:"thinq"`

	Client struct {
		AppVersion string `yaml:"app_version"` // Version reported to the cloud service
	} `yaml:"client"`

	Cache struct {
		Backend              string `yaml:"backend"`                // file, sqlite or memory
		Dir                  string `yaml:"dir"`                    // Directory of the file cache
		SQLitePath           string `yaml:"sqlite_path"`            // Database file of the sqlite cache
		EncryptionSecretFile string `yaml:"encryption_secret_file"` // Optional secret used to encrypt entries at rest
	} `yaml:"cache"`

	Log struct {
		Level string `yaml:"level"` // zerolog level name
	} `yaml:"log"`

	Realtime struct {
		Enabled        bool          `yaml:"enabled"`         // Listen for push updates
		ReconnectDelay time.Duration `yaml:"reconnect_delay"` // Wait between reconnect attempts
		Workers        int           `yaml:"workers"`         // Goroutines delivering push messages
	} `yaml:"realtime"`

	Controllers struct {
		Debounce time.Duration `yaml:"debounce"` // Fan speed debounce window
	} `yaml:"controllers"`

	History struct {
		Enabled       bool   `yaml:"enabled"`        // Write snapshot values to InfluxDB
		URL           string `yaml:"url"`            // InfluxDB URL
		Token         string `yaml:"token"`          // InfluxDB API token
		Org           string `yaml:"org"`            // InfluxDB organisation
		Bucket        string `yaml:"bucket"`         // InfluxDB bucket
		BatchSize     int    `yaml:"batch_size"`     // Points per write batch
		FlushInterval int    `yaml:"flush_interval"` // Flush interval in seconds
	} `yaml:"history"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// environment overrides (a .env file is honoured when present), fills
// defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	_ = godotenv.Load()
	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"THINQ_USERNAME":      &c.ThinQ.Username,
		"THINQ_PASSWORD":      &c.ThinQ.Password,
		"THINQ_REFRESH_TOKEN": &c.ThinQ.RefreshToken,
		"THINQ_COUNTRY":       &c.ThinQ.Country,
		"THINQ_LANGUAGE":      &c.ThinQ.Language,
		"INFLUXDB_TOKEN":      &c.History.Token,
	}
	for env, field := range overrides {
		if value := os.Getenv(env); value != "" {
			*field = value
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ThinQ.Country == "" {
		c.ThinQ.Country = constants.DefaultCountry
	}
	if c.ThinQ.Language == "" {
		c.ThinQ.Language = constants.DefaultLanguage
	}
	if c.Client.AppVersion == "" {
		c.Client.AppVersion = constants.DefaultAppVersion
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendFile
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "cache"
	}
	if c.Cache.SQLitePath == "" {
		c.Cache.SQLitePath = "cache/thinq.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Realtime.ReconnectDelay <= 0 {
		c.Realtime.ReconnectDelay = constants.ReconnectDelay
	}
	if c.Realtime.Workers <= 0 {
		c.Realtime.Workers = constants.PushWorkers
	}
	if c.Controllers.Debounce <= 0 {
		c.Controllers.Debounce = constants.DebounceWindow
	}
}

// Validate checks that the configuration can be used to start a client.
func (c *Config) Validate() error {
	if c.ThinQ.Username == "" && c.ThinQ.RefreshToken == "" {
		return errors.New("either thinq.username/password or thinq.refresh_token is required")
	}
	if c.ThinQ.Username != "" && c.ThinQ.Password == "" && c.ThinQ.RefreshToken == "" {
		return errors.New("thinq.password is required when logging in with a username")
	}
	if _, err := semver.NewVersion(c.Client.AppVersion); err != nil {
		return fmt.Errorf("invalid client.app_version %q: %w", c.Client.AppVersion, err)
	}
	switch c.Cache.Backend {
	case CacheBackendFile, CacheBackendSQLite, CacheBackendMemory:
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	if c.History.Enabled && (c.History.URL == "" || c.History.Bucket == "") {
		return errors.New("history.url and history.bucket are required when history is enabled")
	}
	return nil
}
