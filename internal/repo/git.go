package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/releasekit/internal/errs"
)

const (
	// DefaultRemote is the remote pushed to when none is configured.
	DefaultRemote = "origin"
	// DefaultTimeout bounds each network operation.
	DefaultTimeout = 60 * time.Second

	fallbackAuthorName  = "releasekit"
	fallbackAuthorEmail = "releasekit@localhost"
)

// Signature names the author recorded on release commits.
type Signature struct {
	Name  string
	Email string
}

// Options configures a Git gateway.
type Options struct {
	Remote  string        // defaults to DefaultRemote
	Timeout time.Duration // per network operation; defaults to DefaultTimeout
	Auth    transport.AuthMethod
	Author  Signature // empty fields fall back to the git config user
	Logger  zerolog.Logger
}

// Git implements Gateway on a go-git repository.
type Git struct {
	root string
	repo *git.Repository
	wt   *git.Worktree
	opts Options
	log  zerolog.Logger
}

var _ Gateway = (*Git)(nil)

// Open opens the repository containing root.
func Open(root string, opts Options) (*Git, error) {
	if opts.Remote == "" {
		opts.Remote = DefaultRemote
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	r, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, errs.Newf(errs.NotFound, "open repository", "%s is not inside a git repository", root)
		}
		return nil, errs.Wrap(errs.RepositoryError, "open repository", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, errs.Wrap(errs.RepositoryError, "open worktree", err)
	}
	return &Git{root: root, repo: r, wt: wt, opts: opts, log: opts.Logger}, nil
}

// Remote returns the configured remote name.
func (g *Git) Remote() string { return g.opts.Remote }

// Status implements Gateway.
func (g *Git) Status(ctx context.Context) ([]FileChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := g.wt.Status()
	if err != nil {
		return nil, errs.Wrap(errs.RepositoryError, "status", err)
	}
	changes := make([]FileChange, 0, len(st))
	for path, fs := range st {
		kind, ok := changeKind(fs)
		if !ok {
			continue
		}
		changes = append(changes, FileChange{Path: path, Kind: kind})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// changeKind folds go-git's staging and worktree codes into one kind,
// preferring what is already staged.
func changeKind(fs *git.FileStatus) (ChangeKind, bool) {
	if fs.Staging == git.Untracked && fs.Worktree == git.Untracked {
		return Untracked, true
	}
	code := fs.Staging
	if code == git.Unmodified || code == git.Untracked {
		code = fs.Worktree
	}
	switch code {
	case git.Added:
		return Added, true
	case git.Modified:
		return Modified, true
	case git.Deleted:
		return Deleted, true
	case git.Renamed:
		return Renamed, true
	case git.Copied:
		return Copied, true
	case git.UpdatedButUnmerged:
		return Unmerged, true
	case git.Untracked:
		return Untracked, true
	default:
		return "", false
	}
}

// StageAll implements Gateway.
func (g *Git) StageAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return errs.Wrap(errs.RepositoryError, "stage changes", err)
	}
	return nil
}

// Commit implements Gateway.
func (g *Git) Commit(ctx context.Context, message string) (CommitID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", errs.New(errs.InvalidInput, "commit", "commit message is empty")
	}
	changes, err := g.Status(ctx)
	if err != nil {
		return "", err
	}
	if len(changes) == 0 {
		return "", errs.New(errs.NothingToCommit, "commit", "working tree is clean")
	}

	sig := g.signature()
	hash, err := g.wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", errs.New(errs.NothingToCommit, "commit", "no staged changes")
		}
		return "", errs.Wrap(errs.RepositoryError, "commit", err)
	}
	id := CommitID(hash.String())
	g.log.Info().Str("commit", id.Short()).Msg("created commit")
	return id, nil
}

func (g *Git) signature() *object.Signature {
	name, email := g.opts.Author.Name, g.opts.Author.Email
	if name == "" || email == "" {
		if cfg, err := g.repo.ConfigScoped(config.GlobalScope); err == nil {
			if name == "" {
				name = cfg.User.Name
			}
			if email == "" {
				email = cfg.User.Email
			}
		}
	}
	if name == "" {
		name = fallbackAuthorName
	}
	if email == "" {
		email = fallbackAuthorEmail
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

// HeadCommit implements Gateway.
func (g *Git) HeadCommit(ctx context.Context) (CommitID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	head, err := g.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", errs.New(errs.NotFound, "resolve HEAD", "branch has no commits yet")
		}
		return "", errs.Wrap(errs.RepositoryError, "resolve HEAD", err)
	}
	return CommitID(head.Hash().String()), nil
}

// CurrentBranch implements Gateway.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := g.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", errs.Wrap(errs.RepositoryError, "resolve HEAD", err)
	}
	if ref.Type() != plumbing.SymbolicReference || !ref.Target().IsBranch() {
		return "", errs.New(errs.DetachedHead, "current branch", "HEAD is not on a branch")
	}
	return ref.Target().Short(), nil
}

// OutgoingCommits implements Gateway.
func (g *Git) OutgoingCommits(ctx context.Context, branch string) ([]CommitSummary, error) {
	local, err := g.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.RepositoryError, "outgoing commits", err)
	}

	if err := g.fetchUpstream(ctx, branch); err != nil {
		g.log.Debug().Err(err).Str("branch", branch).Msg("could not refresh upstream, using the last known state")
	}

	var upstream *object.Commit
	remoteRef, err := g.repo.Reference(plumbing.NewRemoteReferenceName(g.opts.Remote, branch), true)
	switch {
	case err == nil:
		upstream, err = g.repo.CommitObject(remoteRef.Hash())
		if err != nil {
			return nil, errs.Wrap(errs.RepositoryError, "outgoing commits", err)
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	default:
		return nil, errs.Wrap(errs.RepositoryError, "outgoing commits", err)
	}

	iter, err := g.repo.Log(&git.LogOptions{From: local.Hash()})
	if err != nil {
		return nil, errs.Wrap(errs.RepositoryError, "outgoing commits", err)
	}
	defer iter.Close()

	var out []CommitSummary
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if upstream != nil {
			if c.Hash == upstream.Hash {
				return storer.ErrStop
			}
			onRemote, err := c.IsAncestor(upstream)
			if err != nil {
				return err
			}
			if onRemote {
				return nil
			}
		}
		out = append(out, summarize(c))
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errs.Wrap(errs.RepositoryError, "outgoing commits", err)
	}
	return out, nil
}

func summarize(c *object.Commit) CommitSummary {
	subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return CommitSummary{
		ID:      CommitID(c.Hash.String()),
		Subject: subject,
		Message: c.Message,
		Author:  c.Author.Name,
		When:    c.Author.When,
	}
}

// Push implements Gateway.
func (g *Git) Push(ctx context.Context, branch string) error {
	if _, err := g.repo.Remote(g.opts.Remote); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return errs.Newf(errs.NoRemote, "push", "remote %q is not configured", g.opts.Remote)
		}
		return errs.Wrap(errs.RepositoryError, "push", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	ref := plumbing.NewBranchReferenceName(branch)
	spec := config.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
	err := g.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: g.opts.Remote,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       g.opts.Auth,
	})
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		g.log.Info().Str("branch", branch).Str("remote", g.opts.Remote).Msg("pushed")
		return nil
	}
	return classifyPushError(ctx, err)
}

// VerifyPushed implements Gateway. It fetches the branch and compares the
// refreshed remote-tracking ref with expected.
func (g *Git) VerifyPushed(ctx context.Context, branch string, expected CommitID) bool {
	if err := g.fetchUpstream(ctx, branch); err != nil {
		g.log.Debug().Err(err).Str("branch", branch).Msg("could not fetch for verification")
		return false
	}
	ref, err := g.repo.Reference(plumbing.NewRemoteReferenceName(g.opts.Remote, branch), true)
	if err != nil {
		return false
	}
	return ref.Hash().String() == string(expected)
}

// fetchUpstream force-updates <remote>/<branch> from the remote within the
// network timeout. An up-to-date ref is not an error.
func (g *Git) fetchUpstream(ctx context.Context, branch string) error {
	if _, err := g.repo.Remote(g.opts.Remote); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	spec := config.RefSpec(fmt.Sprintf("+%s:%s",
		plumbing.NewBranchReferenceName(branch),
		plumbing.NewRemoteReferenceName(g.opts.Remote, branch)))
	err := g.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: g.opts.Remote,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       g.opts.Auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}
