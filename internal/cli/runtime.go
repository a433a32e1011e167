package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/releasekit/internal/config"
	"github.com/lucasnoah/releasekit/internal/journal"
	"github.com/lucasnoah/releasekit/internal/logging"
	"github.com/lucasnoah/releasekit/internal/metrics"
	"github.com/lucasnoah/releasekit/internal/orchestrator"
	"github.com/lucasnoah/releasekit/internal/pipeline"
	"github.com/lucasnoah/releasekit/internal/propagate"
	"github.com/lucasnoah/releasekit/internal/repo"
	"github.com/lucasnoah/releasekit/internal/stage"
)

// loadConfig resolves the configuration: .env, then the config file, then
// RELEASEKIT_* variables, then command-line flags.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(flagRoot); err != nil {
		return nil, "", err
	}

	var (
		cfg  *config.Config
		path string
		err  error
	)
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
		path = flagConfig
	} else {
		cfg, path, err = config.LoadDefault(flagRoot)
	}
	if err != nil {
		return nil, "", err
	}

	if rootCmd.PersistentFlags().Changed("root") || cfg.Root == "." {
		cfg.Root = flagRoot
	}
	config.ApplyEnv(cfg, os.Getenv)
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	return cfg, path, nil
}

// loadValidConfig is loadConfig followed by validation.
func loadValidConfig() (*config.Config, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if verrs := config.Validate(cfg); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, e := range verrs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (zerolog.Logger, error) {
	return logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
}

func newStore(cfg *config.Config) *pipeline.Store {
	return pipeline.NewStore(cfg.VersionPath(), cfg.StatePath())
}

// openJournal opens the configured journal. It returns nil when the journal
// is disabled.
func openJournal(cmd *cobra.Command, cfg *config.Config) (*journal.DB, error) {
	dsn := cfg.JournalDSN()
	if dsn == "" {
		return nil, nil
	}
	return journal.Open(cmd.Context(), dsn)
}

// runtime is everything a stage-running command needs.
type runtime struct {
	cfg   *config.Config
	log   zerolog.Logger
	env   *stage.Env
	orch  *orchestrator.Orchestrator
	store *pipeline.Store
}

// newRuntime wires the gateway, propagator, journal and metrics for cfg.
// The cleanup function closes the journal and flushes the metrics textfile.
func newRuntime(cmd *cobra.Command) (*runtime, func(), error) {
	cfg, err := loadValidConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	auth, err := repo.Credentials{
		Token:         cfg.Auth.Token,
		Username:      cfg.Auth.Username,
		SSHKeyPath:    cfg.Auth.SSHKeyPath,
		SSHPassphrase: cfg.Auth.SSHPassphrase,
	}.AuthMethod()
	if err != nil {
		return nil, nil, err
	}
	gw, err := repo.Open(cfg.Root, repo.Options{
		Remote:  cfg.Remote,
		Timeout: cfg.PushTimeout(),
		Auth:    auth,
		Author:  repo.Signature{Name: cfg.Commit.AuthorName, Email: cfg.Commit.AuthorEmail},
		Logger:  log,
	})
	if err != nil {
		return nil, nil, err
	}

	store := newStore(cfg)
	prop := propagate.New(osfs.New(cfg.Root), propagate.Options{
		Changelog: cfg.Changelog,
		Exclude:   excludes(cfg),
		Logger:    log,
	})
	env := &stage.Env{
		Store:      store,
		Gateway:    gw,
		Propagator: prop,
		Settings: stage.Settings{
			RequireClean:  cfg.RequireCleanTree(),
			CommitMessage: cfg.Commit.Message,
			Conventional:  cfg.Commit.Conventional,
			Retry:         cfg.RetryPolicy(),
			VerifyPush:    cfg.VerifyPush(),
		},
		Logger: log,
	}

	var (
		j   orchestrator.Journal
		rec metrics.Recorder
		db  *journal.DB
		pm  *metrics.Prometheus
	)
	db, err = openJournal(cmd, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("journal unavailable, continuing without it")
	} else if db != nil {
		j = db
	}
	if cfg.Metrics.Textfile != "" {
		pm = metrics.NewPrometheus(nil)
		rec = pm
	}

	cleanup := func() {
		if pm != nil {
			if err := pm.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				log.Warn().Err(err).Msg("metrics export failed")
			}
		}
		if db != nil {
			db.Close()
		}
	}

	rt := &runtime{
		cfg:   cfg,
		log:   log,
		env:   env,
		orch:  orchestrator.New(env, stage.All(), j, rec),
		store: store,
	}
	return rt, cleanup, nil
}

// excludes adds the state directory to the configured propagation excludes
// when it lives inside the project.
func excludes(cfg *config.Config) []string {
	out := append([]string(nil), cfg.Propagate.Exclude...)
	rel, err := filepath.Rel(cfg.Root, cfg.StatePath())
	if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		out = append(out, "/"+filepath.ToSlash(rel)+"/")
	}
	return out
}
