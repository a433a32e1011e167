package pipeline

import (
	"time"

	"github.com/lucasnoah/releasekit/internal/version"
)

// PipelineState is the hand-off record persisted between stage invocations.
// ComputeVersion creates it, Commit fills in the commit fields, and Push
// deletes it once the release has reached the remote.
type PipelineState struct {
	RunID           string           `json:"run_id"`
	NewVersion      version.Version  `json:"new_version"`
	PreviousVersion *version.Version `json:"previous_version,omitempty"`
	BumpKind        version.BumpKind `json:"bump_kind"`
	Timestamp       time.Time        `json:"timestamp"` // captured once per run; every propagated file gets this value
	CommitID        string           `json:"commit_id,omitempty"`
	CommitMessage   string           `json:"commit_message,omitempty"`
	CreatedAt       string           `json:"created_at"`
	UpdatedAt       string           `json:"updated_at"`
}

// HasCommit reports whether the Commit stage has already recorded a commit.
func (ps *PipelineState) HasCommit() bool {
	return ps != nil && ps.CommitID != ""
}
