package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/version"
)

const handoffFile = "handoff.json"

// Store is the single source of truth for the current version and the
// hand-off record shared by the stages.
type Store struct {
	versionPath string // canonical version record, usually <root>/VERSION
	stateDir    string // hand-off lives here, outside anything that gets staged
}

// NewStore creates a Store for the given version record and state directory.
func NewStore(versionPath, stateDir string) *Store {
	return &Store{versionPath: versionPath, stateDir: stateDir}
}

// VersionPath returns the path of the canonical version record.
func (s *Store) VersionPath() string {
	return s.versionPath
}

// StateDir returns the directory holding the hand-off record.
func (s *Store) StateDir() string {
	return s.stateDir
}

// handoffPath returns the path to handoff.json.
func (s *Store) handoffPath() string {
	return filepath.Join(s.stateDir, handoffFile)
}

// ReadCurrent reads the canonical version. A missing record is NotFound; a
// record that does not hold MAJOR.MINOR.PATCH is InvalidInput.
func (s *Store) ReadCurrent() (version.Version, error) {
	data, err := os.ReadFile(s.versionPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return version.Version{}, errs.Newf(errs.NotFound, "read version", "no version record at %s (run `releasekit init`)", s.versionPath)
		}
		return version.Version{}, fmt.Errorf("read version record: %w", err)
	}
	v, err := version.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return version.Version{}, fmt.Errorf("version record %s: %w", s.versionPath, err)
	}
	return v, nil
}

// WriteCurrent overwrites the canonical version durably.
func (s *Store) WriteCurrent(v version.Version) error {
	if err := writeDurable(s.versionPath, []byte(v.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write version record: %w", err)
	}
	return nil
}

// InitCurrent creates the version record with v if none exists yet. It
// reports whether a record was written.
func (s *Store) InitCurrent(v version.Version) (bool, error) {
	if _, err := os.Stat(s.versionPath); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat version record: %w", err)
	}
	if err := s.WriteCurrent(v); err != nil {
		return false, err
	}
	return true, nil
}

// SaveHandoff persists the hand-off record, stamping CreatedAt on first save
// and UpdatedAt on every save.
func (s *Store) SaveHandoff(ps *PipelineState) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if ps.CreatedAt == "" {
		ps.CreatedAt = now
	}
	ps.UpdatedAt = now
	if err := saveJSON(s.handoffPath(), ps); err != nil {
		return fmt.Errorf("write hand-off: %w", err)
	}
	return nil
}

// LoadHandoff reads the hand-off record. It returns (nil, nil) when no stage
// has left one behind.
func (s *Store) LoadHandoff() (*PipelineState, error) {
	var ps PipelineState
	if err := loadJSON(s.handoffPath(), &ps); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read hand-off: %w", err)
	}
	return &ps, nil
}

// UpdateHandoff performs a read-modify-write of the hand-off record. It is
// NotFound when no hand-off exists.
func (s *Store) UpdateHandoff(fn func(*PipelineState)) (*PipelineState, error) {
	ps, err := s.LoadHandoff()
	if err != nil {
		return nil, err
	}
	if ps == nil {
		return nil, errs.New(errs.NotFound, "update hand-off", "no release in progress")
	}
	fn(ps)
	if err := s.SaveHandoff(ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// ClearHandoff deletes the hand-off record. Clearing an absent record is a no-op.
func (s *Store) ClearHandoff() error {
	if err := os.Remove(s.handoffPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear hand-off: %w", err)
	}
	return nil
}
