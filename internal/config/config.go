// Package config reads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Remote store backends.
const (
	RemoteFirestore = "firestore"
	RemotePostgres  = "postgres"
)

type Config struct {
	DB            string // sqlite file
	Remote        string
	Collection    string
	RemoteDSN     string
	RemoteTimeout time.Duration
	SyncSchedule  string
	Firebase      FirebaseConfig
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	APIKey          string
	GoogleClientID  string
}

// Dir is the per-user config directory. Honours XDG_CONFIG_HOME.
func Dir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "profilesync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "profilesync")
}

// Load reads envFile, or ./.env when envFile is empty, without overriding variables already set,
// then builds and validates the configuration. Only an explicitly named file must exist.
func Load(envFile string) (*Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	if err := godotenv.Load(files...); err != nil && (envFile != "" || !errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		DB:            getEnv("PROFILESYNC_DB", filepath.Join(Dir(), "profiles.db")),
		Remote:        getEnv("PROFILESYNC_REMOTE", RemoteFirestore),
		Collection:    getEnv("PROFILESYNC_COLLECTION", "users"),
		RemoteDSN:     getEnv("PROFILESYNC_REMOTE_DSN", ""),
		RemoteTimeout: getEnvAsDuration("PROFILESYNC_REMOTE_TIMEOUT", 15*time.Second),
		SyncSchedule:  getEnv("PROFILESYNC_SYNC_SCHEDULE", "@every 5m"),
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			APIKey:          getEnv("FIREBASE_API_KEY", ""),
			GoogleClientID:  getEnv("GOOGLE_CLIENT_ID", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command needs. Identity settings are checked where used.
func (c *Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("PROFILESYNC_DB is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("PROFILESYNC_COLLECTION is required")
	}
	switch c.Remote {
	case RemoteFirestore:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the %s remote", RemoteFirestore)
		}
	case RemotePostgres:
		if c.RemoteDSN == "" {
			return fmt.Errorf("PROFILESYNC_REMOTE_DSN is required for the %s remote", RemotePostgres)
		}
	default:
		return fmt.Errorf("PROFILESYNC_REMOTE must be %s or %s, got %q", RemoteFirestore, RemotePostgres, c.Remote)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("PROFILESYNC_REMOTE_TIMEOUT must be positive")
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		return fmt.Errorf("PROFILESYNC_SYNC_SCHEDULE: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	// plain seconds
	if n, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(n) * time.Second
	}
	return 0
}
