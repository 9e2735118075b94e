package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	mirrorerrors "github.com/alexjbarnes/drive-mirror/internal/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Remote backends.
const (
	BackendHTTP   = "http"
	BackendMemory = "memory"
)

// Config holds all environment-based configuration for drive-mirror.
type Config struct {
	// Local directory mirrored to the remote store.
	Root string `env:"MIRROR_ROOT"`

	// Remote store settings. The memory backend keeps objects in process
	// and is useful for dry runs.
	RemoteBackend string `env:"REMOTE_BACKEND" envDefault:"http"`
	RemoteURL     string `env:"REMOTE_URL" envDefault:"https://www.googleapis.com"`
	RemoteToken   string `env:"REMOTE_TOKEN"`

	// Remote folder the synchronization root is created in. Empty places
	// the root at the remote top level.
	RemoteRootParentID string `env:"REMOTE_ROOT_PARENT_ID"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`

	// Path of the bbolt cache. Defaults to ~/.drive-mirror/state.db.
	StatePath string `env:"STATE_PATH"`

	// Ignore rules file, relative to Root.
	IgnoreFile string `env:"IGNORE_FILE" envDefault:".mirrorignore"`

	MaxConcurrent int           `env:"MAX_CONCURRENT" envDefault:"4"`
	RetryAttempts int           `env:"RETRY_ATTEMPTS" envDefault:"1"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF" envDefault:"1s"`
	CascadeDelete bool          `env:"CASCADE_DELETE" envDefault:"true"`

	// Environment controls log format
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"10"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the remote token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Cache keys are absolute paths, and the watcher and enumerator both
	// report absolute paths, so the root must be absolute and clean.
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root to absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("reading root %s: %w", absRoot, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", absRoot, mirrorerrors.ErrInvalidRoot)
	}

	cfg.Root = absRoot

	if cfg.StatePath == "" {
		statePath, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = statePath
	}

	return cfg, nil
}

// LoadStatus reads configuration for read-only commands. Only the state
// location matters there, so nothing else is validated.
func LoadStatus() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.StatePath == "" {
		statePath, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = statePath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Root == "" {
		return fmt.Errorf("MIRROR_ROOT is required")
	}

	switch c.RemoteBackend {
	case BackendHTTP:
		if c.RemoteToken == "" {
			return fmt.Errorf("REMOTE_TOKEN is required for the %s backend", BackendHTTP)
		}

		if c.RemoteURL == "" {
			return fmt.Errorf("REMOTE_URL is required for the %s backend", BackendHTTP)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("REMOTE_BACKEND must be %q or %q, got %q", BackendHTTP, BackendMemory, c.RemoteBackend)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT must be at least 1")
	}

	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	return nil
}

// DefaultStatePath returns ~/.drive-mirror/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".drive-mirror", "state.db"), nil
}

// IgnorePath returns the absolute path of the ignore rules file.
func (c *Config) IgnorePath() string {
	if c.IgnoreFile == "" || filepath.IsAbs(c.IgnoreFile) {
		return c.IgnoreFile
	}

	return filepath.Join(c.Root, c.IgnoreFile)
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
