// Package repotest provides an in-memory repo.Gateway for tests.
package repotest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/repo"
)

// Fake is an in-memory repo.Gateway. Changes are either set directly or, once
// Watch has been called, derived by diffing a billy filesystem against the
// snapshot taken at the last commit. Errors queued in PushErrs are returned
// by successive Push calls before a push is allowed to succeed.
type Fake struct {
	mu sync.Mutex

	Branch    string // empty means detached HEAD
	Head      repo.CommitID
	Changes   []repo.FileChange
	Outgoing  []repo.CommitSummary // newest first
	Remote    map[string]repo.CommitID
	HasRemote bool

	StatusErr error
	StageErr  error
	CommitErr error
	PushErrs  []error
	// VerifyOverride, when set, replaces the remote comparison in VerifyPushed.
	VerifyOverride *bool

	Calls      []string
	PushCalls  int
	CommitMsgs []string

	fs       billy.Filesystem
	snapshot map[string][]byte
	seq      int
}

var _ repo.Gateway = (*Fake)(nil)

// New returns a Fake on branch "main" with a remote that is in sync with a
// single initial commit.
func New() *Fake {
	f := &Fake{Branch: "main", HasRemote: true, Remote: map[string]repo.CommitID{}}
	f.Head = f.nextID()
	f.Remote["main"] = f.Head
	return f
}

// Watch makes Status report the differences between fs and its current
// contents. Directories named .git are ignored.
func (f *Fake) Watch(fs billy.Filesystem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fs = fs
	snap, err := readTree(fs)
	if err != nil {
		return err
	}
	f.snapshot = snap
	return nil
}

func (f *Fake) nextID() repo.CommitID {
	f.seq++
	return repo.CommitID(fmt.Sprintf("%040x", f.seq))
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// Status implements repo.Gateway.
func (f *Fake) Status(ctx context.Context) ([]repo.FileChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("status")
	if f.StatusErr != nil {
		return nil, f.StatusErr
	}
	return f.status()
}

func (f *Fake) status() ([]repo.FileChange, error) {
	if f.fs == nil {
		return append([]repo.FileChange(nil), f.Changes...), nil
	}
	current, err := readTree(f.fs)
	if err != nil {
		return nil, errs.Wrap(errs.RepositoryError, "status", err)
	}
	var out []repo.FileChange
	for p, data := range current {
		old, ok := f.snapshot[p]
		switch {
		case !ok:
			out = append(out, repo.FileChange{Path: p, Kind: repo.Untracked})
		case !bytes.Equal(old, data):
			out = append(out, repo.FileChange{Path: p, Kind: repo.Modified})
		}
	}
	for p := range f.snapshot {
		if _, ok := current[p]; !ok {
			out = append(out, repo.FileChange{Path: p, Kind: repo.Deleted})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// StageAll implements repo.Gateway.
func (f *Fake) StageAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stage")
	return f.StageErr
}

// Commit implements repo.Gateway.
func (f *Fake) Commit(ctx context.Context, message string) (repo.CommitID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("commit")
	if f.CommitErr != nil {
		return "", f.CommitErr
	}
	changes, err := f.status()
	if err != nil {
		return "", err
	}
	if len(changes) == 0 {
		return "", errs.New(errs.NothingToCommit, "commit", "working tree is clean")
	}
	id := f.nextID()
	subject, _, _ := strings.Cut(message, "\n")
	f.Outgoing = append([]repo.CommitSummary{{
		ID: id, Subject: subject, Message: message, Author: "fake", When: time.Now(),
	}}, f.Outgoing...)
	f.Head = id
	f.Changes = nil
	f.CommitMsgs = append(f.CommitMsgs, message)
	if f.fs != nil {
		if f.snapshot, err = readTree(f.fs); err != nil {
			return "", err
		}
	}
	return id, nil
}

// HeadCommit implements repo.Gateway.
func (f *Fake) HeadCommit(ctx context.Context) (repo.CommitID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Head == "" {
		return "", errs.New(errs.NotFound, "resolve HEAD", "branch has no commits yet")
	}
	return f.Head, nil
}

// CurrentBranch implements repo.Gateway.
func (f *Fake) CurrentBranch(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Branch == "" {
		return "", errs.New(errs.DetachedHead, "current branch", "HEAD is not on a branch")
	}
	return f.Branch, nil
}

// OutgoingCommits implements repo.Gateway.
func (f *Fake) OutgoingCommits(ctx context.Context, branch string) ([]repo.CommitSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("outgoing")
	return append([]repo.CommitSummary(nil), f.Outgoing...), nil
}

// Push implements repo.Gateway.
func (f *Fake) Push(ctx context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("push")
	f.PushCalls++
	if len(f.PushErrs) > 0 {
		err := f.PushErrs[0]
		f.PushErrs = f.PushErrs[1:]
		if err != nil {
			return err
		}
	}
	if !f.HasRemote {
		return errs.New(errs.NoRemote, "push", "no remote configured")
	}
	f.Remote[branch] = f.Head
	f.Outgoing = nil
	return nil
}

// VerifyPushed implements repo.Gateway.
func (f *Fake) VerifyPushed(ctx context.Context, branch string, expected repo.CommitID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("verify")
	if f.VerifyOverride != nil {
		return *f.VerifyOverride
	}
	return f.Remote[branch] == expected
}

// readTree returns the contents of every regular file in fs keyed by
// slash-separated path, skipping .git.
func readTree(fs billy.Filesystem) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := util.Walk(fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := util.ReadFile(fs, path)
		if err != nil {
			return err
		}
		out[strings.TrimPrefix(filepath.ToSlash(path), "/")] = data
		return nil
	})
	return out, err
}
