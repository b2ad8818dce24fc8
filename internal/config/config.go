// Package config loads engine configuration with the precedence
// flags > environment > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// credentialsFile mirrors the OAuth client JSON downloaded from the
// Cloud Console. Desktop clients carry an "installed" section, server
// clients a "web" section; only the id and secret matter here.
type credentialsFile struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials extracts the OAuth client id and secret from a
// Cloud Console credentials file, preferring the "installed" section.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	switch {
	case creds.Installed.ClientID != "":
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	case creds.Web.ClientID != "":
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}
	return "", "", fmt.Errorf("credentials file %s has neither an 'installed' nor a 'web' client", path)
}

// Config holds the engine configuration.
type Config struct {
	GoogleCredentialsPath string `json:"google_credentials_path,omitempty"`
	GoogleRedirectURL     string `json:"google_redirect_url,omitempty"`
	CredentialDBPath      string `json:"credential_db_path,omitempty"`

	// Progress store: "memory" (default) or "redis".
	ProgressBackend string `json:"progress_backend,omitempty"`
	RedisAddr       string `json:"redis_addr,omitempty"`
	RedisPassword   string `json:"redis_password,omitempty"`
	RedisDB         int    `json:"redis_db,omitempty"`

	// Fixed scheduling timezone. The engine schedules every session in
	// this zone; it is a business rule, not a per-user setting.
	TimezoneName          string `json:"timezone_name,omitempty"`
	TimezoneOffsetMinutes int    `json:"timezone_offset_minutes,omitempty"`

	RetryMaxAttempts  int `json:"retry_max_attempts,omitempty"`
	RetryBaseDelayMs  int `json:"retry_base_delay_ms,omitempty"`
	WorkerConcurrency int `json:"worker_concurrency,omitempty"`

	// Optional cron spec for periodically re-enqueueing the configured
	// sync in worker mode.
	ResyncSchedule string `json:"resync_schedule,omitempty"`
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// LoadConfig loads configuration with the documented precedence. Flag
// values are passed in; empty strings and zero values mean "not set".
func LoadConfig(configFile, credentialsPathFlag, credentialDBFlag, redisAddrFlag, progressBackendFlag string) (*Config, error) {
	var cfg Config

	if configFile != "" {
		fileCfg, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = *fileCfg
	}

	// Environment overrides.
	if v := os.Getenv("GOOGLE_CREDENTIALS_PATH"); v != "" {
		cfg.GoogleCredentialsPath = v
	}
	if v := os.Getenv("GOOGLE_REDIRECT_URL"); v != "" {
		cfg.GoogleRedirectURL = v
	}
	if v := os.Getenv("CREDENTIAL_DB_PATH"); v != "" {
		cfg.CredentialDBPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("PROGRESS_BACKEND"); v != "" {
		cfg.ProgressBackend = v
	}

	// Flag overrides (highest priority).
	if credentialsPathFlag != "" {
		cfg.GoogleCredentialsPath = credentialsPathFlag
	}
	if credentialDBFlag != "" {
		cfg.CredentialDBPath = credentialDBFlag
	}
	if redisAddrFlag != "" {
		cfg.RedisAddr = redisAddrFlag
	}
	if progressBackendFlag != "" {
		cfg.ProgressBackend = progressBackendFlag
	}

	// Defaults and validation.
	if cfg.GoogleCredentialsPath == "" {
		return nil, fmt.Errorf("google_credentials_path must be provided via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH environment variable, or config file")
	}
	if cfg.CredentialDBPath == "" {
		cfg.CredentialDBPath = "calsync.db"
	}
	if cfg.ProgressBackend == "" {
		cfg.ProgressBackend = "memory"
	}
	if cfg.ProgressBackend == "redis" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis_addr is required when progress_backend is \"redis\"")
	}
	if cfg.TimezoneName == "" {
		cfg.TimezoneName = "Asia/Kolkata"
	}
	if cfg.TimezoneOffsetMinutes == 0 {
		cfg.TimezoneOffsetMinutes = 330 // +05:30
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryBaseDelayMs == 0 {
		cfg.RetryBaseDelayMs = 400
	}
	if cfg.WorkerConcurrency == 0 {
		cfg.WorkerConcurrency = 4
	}
	return &cfg, nil
}

// Location returns the fixed scheduling timezone.
func (c *Config) Location() *time.Location {
	return time.FixedZone(c.TimezoneName, c.TimezoneOffsetMinutes*60)
}

// OAuth assembles the oauth2 configuration for linking calendars.
func (c *Config) OAuth() (*oauth2.Config, error) {
	clientID, clientSecret, err := LoadGoogleCredentials(c.GoogleCredentialsPath)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  c.GoogleRedirectURL,
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/calendar",
			"https://www.googleapis.com/auth/calendar.events",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}, nil
}
