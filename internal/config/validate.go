package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/releasekit/internal/retry"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedFormats = map[string]bool{
	"console": true,
	"json":    true,
}

var recognizedBackoffs = map[string]bool{
	string(retry.Fixed):       true,
	string(retry.Linear):      true,
	string(retry.Exponential): true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(cfg.VersionFile) == "" {
		errs = append(errs, ValidationError{Field: "version_file", Message: "is required"})
	}
	if strings.TrimSpace(cfg.Remote) == "" {
		errs = append(errs, ValidationError{Field: "remote", Message: "is required"})
	}
	if strings.TrimSpace(cfg.Commit.Message) == "" {
		errs = append(errs, ValidationError{Field: "commit.message", Message: "is required"})
	}
	if (cfg.Commit.AuthorName == "") != (cfg.Commit.AuthorEmail == "") {
		errs = append(errs, ValidationError{
			Field:   "commit.author_email",
			Message: "author_name and author_email must be set together",
		})
	}

	validateDuration("push.timeout", cfg.Push.Timeout, &errs)
	validateDuration("push.initial_delay", cfg.Push.InitialDelay, &errs)
	validateDuration("push.max_delay", cfg.Push.MaxDelay, &errs)

	if cfg.Push.MaxRetries != nil && *cfg.Push.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "push.max_retries", Message: "cannot be negative"})
	}
	if !recognizedBackoffs[cfg.Push.Backoff] {
		errs = append(errs, ValidationError{
			Field:   "push.backoff",
			Message: fmt.Sprintf("unrecognized backoff %q (want fixed, linear or exponential)", cfg.Push.Backoff),
		})
	}

	for i, ex := range cfg.Propagate.Exclude {
		if strings.TrimSpace(ex) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("propagate.exclude[%d]", i),
				Message: "is empty",
			})
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unrecognized level %q", cfg.Log.Level),
		})
	}
	if !recognizedFormats[cfg.Log.Format] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("unrecognized format %q (want console or json)", cfg.Log.Format),
		})
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	d, err := time.ParseDuration(value)
	switch {
	case err != nil:
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
	case d <= 0:
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}
