package config

// Config is the top-level configuration parsed from .releasekit.yaml.
type Config struct {
	Root        string          `yaml:"root"`
	VersionFile string          `yaml:"version_file"`
	StateDir    string          `yaml:"state_dir"` // keep outside the tracked tree; commits stage everything else
	Changelog   string          `yaml:"changelog"`
	Remote      string          `yaml:"remote"`
	Commit      CommitConfig    `yaml:"commit"`
	Push        PushConfig      `yaml:"push"`
	Bump        BumpConfig      `yaml:"bump"`
	Propagate   PropagateConfig `yaml:"propagate"`
	Journal     JournalConfig   `yaml:"journal"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Log         LogConfig       `yaml:"log"`

	// Auth is only ever read from the environment so secrets stay out of
	// committed files.
	Auth AuthConfig `yaml:"-"`
}

// CommitConfig controls the release commit.
type CommitConfig struct {
	Message      string `yaml:"message"` // template; {{version}} and {{previous}} are expanded
	Conventional bool   `yaml:"conventional"`
	AuthorName   string `yaml:"author_name"`
	AuthorEmail  string `yaml:"author_email"`
}

// PushConfig controls publishing to the remote.
type PushConfig struct {
	Timeout      string `yaml:"timeout"`
	MaxRetries   *int   `yaml:"max_retries"`
	Backoff      string `yaml:"backoff"` // fixed|linear|exponential
	InitialDelay string `yaml:"initial_delay"`
	MaxDelay     string `yaml:"max_delay"`
	Verify       *bool  `yaml:"verify"`
}

// BumpConfig controls version computation.
type BumpConfig struct {
	RequireClean *bool `yaml:"require_clean"`
}

// PropagateConfig controls documentation propagation.
type PropagateConfig struct {
	Exclude []string `yaml:"exclude"`
}

// JournalConfig selects the release event journal. An empty DSN means a
// SQLite file in the state directory; "off" disables the journal.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console|json
}

// AuthConfig holds push credentials.
type AuthConfig struct {
	Token         string
	Username      string
	SSHKeyPath    string
	SSHPassphrase string
}
