package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/releasekit/internal/retry"
)

// FileName is the per-project config file looked up in the working tree.
const FileName = ".releasekit.yaml"

// DefaultCommitMessage is the release commit template.
const DefaultCommitMessage = "chore(release): {{version}}"

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it applies defaults for every unset field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: <root>/.releasekit.yaml,
// $XDG_CONFIG_HOME/releasekit/config.yaml (and the XDG config dirs). When
// nothing is found the defaults are returned; the file is optional.
func LoadDefault(root string) (*Config, string, error) {
	candidates := []string{filepath.Join(root, FileName)}
	if p, err := xdg.SearchConfigFile(filepath.Join("releasekit", "config.yaml")); err == nil {
		candidates = append(candidates, p)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}

// LoadDotEnv loads <root>/.env into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(root string) error {
	path := filepath.Join(root, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Environment variables that override file settings.
const (
	EnvRemote        = "RELEASEKIT_REMOTE"
	EnvToken         = "RELEASEKIT_GIT_TOKEN"
	EnvUsername      = "RELEASEKIT_GIT_USERNAME"
	EnvSSHKey        = "RELEASEKIT_SSH_KEY"
	EnvSSHPassphrase = "RELEASEKIT_SSH_PASSPHRASE"
	EnvLogLevel      = "RELEASEKIT_LOG_LEVEL"
	EnvLogFormat     = "RELEASEKIT_LOG_FORMAT"
	EnvJournalDSN    = "RELEASEKIT_JOURNAL_DSN"
)

// ApplyEnv overlays RELEASEKIT_* variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Remote, EnvRemote)
	set(&cfg.Auth.Token, EnvToken)
	set(&cfg.Auth.Username, EnvUsername)
	set(&cfg.Auth.SSHKeyPath, EnvSSHKey)
	set(&cfg.Auth.SSHPassphrase, EnvSSHPassphrase)
	set(&cfg.Log.Level, EnvLogLevel)
	set(&cfg.Log.Format, EnvLogFormat)
	set(&cfg.Journal.DSN, EnvJournalDSN)
}

func applyDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.VersionFile == "" {
		cfg.VersionFile = "VERSION"
	}
	if cfg.Changelog == "" {
		cfg.Changelog = "CHANGELOG.md"
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.Commit.Message == "" {
		cfg.Commit.Message = DefaultCommitMessage
	}
	if cfg.Push.Timeout == "" {
		cfg.Push.Timeout = "60s"
	}
	if cfg.Push.MaxRetries == nil {
		n := retry.DefaultPolicy().MaxRetries
		cfg.Push.MaxRetries = &n
	}
	if cfg.Push.Backoff == "" {
		cfg.Push.Backoff = string(retry.Exponential)
	}
	if cfg.Push.InitialDelay == "" {
		cfg.Push.InitialDelay = "1s"
	}
	if cfg.Push.MaxDelay == "" {
		cfg.Push.MaxDelay = "30s"
	}
	if cfg.Push.Verify == nil {
		t := true
		cfg.Push.Verify = &t
	}
	if cfg.Bump.RequireClean == nil {
		t := true
		cfg.Bump.RequireClean = &t
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// resolve joins a relative path onto the root.
func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// VersionPath is the absolute-or-root-relative path of the version record.
func (c *Config) VersionPath() string { return c.resolve(c.VersionFile) }

// StatePath is the directory holding the hand-off and the default journal.
// It defaults to .git/releasekit so the working tree never stages it.
func (c *Config) StatePath() string {
	if c.StateDir == "" {
		return filepath.Join(c.Root, ".git", "releasekit")
	}
	return c.resolve(c.StateDir)
}

// JournalDSN returns the journal DSN with the default applied. An empty
// result means the journal is disabled.
func (c *Config) JournalDSN() string {
	switch c.Journal.DSN {
	case "off", "none", "disabled":
		return ""
	case "":
		return filepath.Join(c.StatePath(), "journal.db")
	default:
		return c.Journal.DSN
	}
}

// RequireCleanTree reports whether bumping requires a clean working tree.
func (c *Config) RequireCleanTree() bool {
	return c.Bump.RequireClean == nil || *c.Bump.RequireClean
}

// VerifyPush reports whether a push is verified against the remote.
func (c *Config) VerifyPush() bool {
	return c.Push.Verify == nil || *c.Push.Verify
}

// PushTimeout returns the per-operation network timeout.
func (c *Config) PushTimeout() time.Duration {
	d, err := time.ParseDuration(c.Push.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// RetryPolicy builds the push retry policy from the push section.
func (c *Config) RetryPolicy() retry.Policy {
	initial, _ := time.ParseDuration(c.Push.InitialDelay)
	maxDelay, _ := time.ParseDuration(c.Push.MaxDelay)
	retries := -1
	if c.Push.MaxRetries != nil {
		retries = *c.Push.MaxRetries
	}
	return retry.NewPolicy(retry.Mode(c.Push.Backoff), initial, maxDelay, retries)
}
