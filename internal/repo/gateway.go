// Package repo is the narrow gateway between the release pipeline and the
// version-control system. Every method reports failures as classified
// errs.Error values so stages can decide between retrying, failing and
// treating a condition as benign.
package repo

import (
	"context"
	"time"
)

// ChangeKind classifies one entry of the working-tree status.
type ChangeKind string

const (
	Added     ChangeKind = "added"
	Modified  ChangeKind = "modified"
	Deleted   ChangeKind = "deleted"
	Renamed   ChangeKind = "renamed"
	Copied    ChangeKind = "copied"
	Unmerged  ChangeKind = "unmerged"
	Untracked ChangeKind = "untracked"
)

// FileChange is one path that differs from HEAD.
type FileChange struct {
	Path string
	Kind ChangeKind
}

// CommitID is a full hex commit hash.
type CommitID string

// Short returns the abbreviated form used in log output.
func (c CommitID) Short() string {
	if len(c) > 8 {
		return string(c[:8])
	}
	return string(c)
}

// CommitSummary describes a commit that has not reached the remote yet.
type CommitSummary struct {
	ID      CommitID
	Subject string
	Message string
	Author  string
	When    time.Time
}

// Gateway is everything the pipeline needs from the repository.
type Gateway interface {
	// Status lists every changed or untracked path, sorted by path.
	Status(ctx context.Context) ([]FileChange, error)
	// StageAll stages every change in the working tree, including deletions.
	StageAll(ctx context.Context) error
	// Commit records the staged changes. It is NothingToCommit when the
	// working tree has no changes at call time.
	Commit(ctx context.Context, message string) (CommitID, error)
	// HeadCommit returns the commit HEAD points at. It is NotFound on an
	// unborn branch.
	HeadCommit(ctx context.Context) (CommitID, error)
	// CurrentBranch returns the checked-out branch, or DetachedHead.
	CurrentBranch(ctx context.Context) (string, error)
	// OutgoingCommits lists commits on branch not yet on the remote, newest
	// first. Every commit is outgoing when the remote branch does not exist.
	OutgoingCommits(ctx context.Context, branch string) ([]CommitSummary, error)
	// Push publishes branch to the remote without ever forcing.
	Push(ctx context.Context, branch string) error
	// VerifyPushed reports whether the remote branch now points at expected.
	// Inconclusive checks report false.
	VerifyPushed(ctx context.Context, branch string, expected CommitID) bool
}
