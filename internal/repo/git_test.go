package repo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/releasekit/internal/errs"
)

var testAuthor = Signature{Name: "tester", Email: "t@example.com"}

func requireGitBinary(t *testing.T) {
	t.Helper()
	// go-git's file transport shells out to git-upload-pack/git-receive-pack.
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func commitFile(t *testing.T, r *git.Repository, dir, name, content, msg string) plumbing.Hash {
	t.Helper()
	writeFile(t, dir, name, content)
	wt, err := r.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	h, err := wt.Commit(msg, &git.CommitOptions{Author: &object.Signature{Name: "seed", Email: "s@example.com", When: time.Now()}})
	require.NoError(t, err)
	return h
}

// newRepo creates a working repository with one commit.
func newRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "work")
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, r, dir, "README.md", "hello\n", "initial")
	return dir, r
}

// newRepoWithRemote creates a working repository whose master branch has
// been pushed to a local bare remote named origin.
func newRepoWithRemote(t *testing.T) (string, *git.Repository, string) {
	t.Helper()
	requireGitBinary(t)
	dir, r := newRepo(t)
	bare := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInit(bare, true)
	require.NoError(t, err)
	_, err = r.CreateRemote(&ggitcfg.RemoteConfig{Name: "origin", URLs: []string{bare}})
	require.NoError(t, err)
	require.NoError(t, r.Push(&git.PushOptions{RemoteName: "origin"}))
	return dir, r, bare
}

func openGateway(t *testing.T, dir string) *Git {
	t.Helper()
	g, err := Open(dir, Options{Author: testAuthor, Logger: zerolog.Nop(), Timeout: 10 * time.Second})
	require.NoError(t, err)
	return g
}

func TestOpenOutsideRepository(t *testing.T) {
	_, err := Open(t.TempDir(), Options{})
	assert.True(t, errors.Is(err, errs.ErrNotFound), "got %v", err)
}

func TestStatusStageAndCommit(t *testing.T) {
	dir, r := newRepo(t)
	g := openGateway(t, dir)
	ctx := context.Background()

	changes, err := g.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	writeFile(t, dir, "README.md", "hello again\n")
	writeFile(t, dir, "docs/new.md", "new\n")

	changes, err = g.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []FileChange{
		{Path: "README.md", Kind: Modified},
		{Path: "docs/new.md", Kind: Untracked},
	}, changes)

	require.NoError(t, g.StageAll(ctx))
	changes, err = g.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []FileChange{
		{Path: "README.md", Kind: Modified},
		{Path: "docs/new.md", Kind: Added},
	}, changes)

	id, err := g.Commit(ctx, "chore(release): 1.5.0")
	require.NoError(t, err)

	head, err := g.HeadCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, head)

	c, err := r.CommitObject(plumbing.NewHash(string(id)))
	require.NoError(t, err)
	assert.Equal(t, "chore(release): 1.5.0", c.Message)
	assert.Equal(t, "tester", c.Author.Name)

	changes, err = g.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestStageAllIncludesDeletions(t *testing.T) {
	dir, _ := newRepo(t)
	g := openGateway(t, dir)
	ctx := context.Background()

	require.NoError(t, os.Remove(filepath.Join(dir, "README.md")))
	require.NoError(t, g.StageAll(ctx))
	changes, err := g.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []FileChange{{Path: "README.md", Kind: Deleted}}, changes)
}

func TestCommitCleanTreeIsNothingToCommit(t *testing.T) {
	dir, _ := newRepo(t)
	g := openGateway(t, dir)

	_, err := g.Commit(context.Background(), "chore(release): 1.0.0")
	assert.True(t, errors.Is(err, errs.ErrNothingToCommit), "got %v", err)
	assert.True(t, errs.Benign(err))
}

func TestCommitRejectsEmptyMessage(t *testing.T) {
	dir, _ := newRepo(t)
	g := openGateway(t, dir)
	writeFile(t, dir, "a.txt", "a")

	_, err := g.Commit(context.Background(), "  ")
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
}

func TestCurrentBranch(t *testing.T) {
	dir, r := newRepo(t)
	g := openGateway(t, dir)
	ctx := context.Background()

	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)

	head, err := r.Head()
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: head.Hash()}))

	_, err = g.CurrentBranch(ctx)
	assert.True(t, errors.Is(err, errs.ErrDetachedHead), "got %v", err)
}

func TestOutgoingCommitsWithoutUpstream(t *testing.T) {
	dir, r := newRepo(t)
	commitFile(t, r, dir, "a.txt", "a", "feat: add a")
	g := openGateway(t, dir)

	out, err := g.OutgoingCommits(context.Background(), "master")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "feat: add a", out[0].Subject)
	assert.Equal(t, "initial", out[1].Subject)
}

func TestOutgoingCommitsUnknownBranch(t *testing.T) {
	dir, _ := newRepo(t)
	g := openGateway(t, dir)

	out, err := g.OutgoingCommits(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPushAndVerify(t *testing.T) {
	dir, r, bare := newRepoWithRemote(t)
	g := openGateway(t, dir)
	ctx := context.Background()

	out, err := g.OutgoingCommits(ctx, "master")
	require.NoError(t, err)
	assert.Empty(t, out, "freshly pushed branch has nothing outgoing")

	h := commitFile(t, r, dir, "CHANGELOG.md", "# Changelog\n", "chore(release): 0.2.0")
	out, err = g.OutgoingCommits(ctx, "master")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, CommitID(h.String()), out[0].ID)

	require.NoError(t, g.Push(ctx, "master"))
	assert.True(t, g.VerifyPushed(ctx, "master", CommitID(h.String())))
	assert.False(t, g.VerifyPushed(ctx, "master", CommitID(plumbing.ZeroHash.String())))

	out, err = g.OutgoingCommits(ctx, "master")
	require.NoError(t, err)
	assert.Empty(t, out)

	remote, err := git.PlainOpen(bare)
	require.NoError(t, err)
	ref, err := remote.Reference(plumbing.NewBranchReferenceName("master"), true)
	require.NoError(t, err)
	assert.Equal(t, h, ref.Hash())

	// Pushing again is a no-op, not an error.
	require.NoError(t, g.Push(ctx, "master"))
}

func TestPushDivergedIsRejected(t *testing.T) {
	dir, r, bare := newRepoWithRemote(t)

	// Someone else pushes first.
	other := filepath.Join(t.TempDir(), "other")
	otherRepo, err := git.PlainClone(other, false, &git.CloneOptions{URL: bare})
	require.NoError(t, err)
	commitFile(t, otherRepo, other, "theirs.txt", "theirs", "their change")
	require.NoError(t, otherRepo.Push(&git.PushOptions{RemoteName: "origin"}))

	commitFile(t, r, dir, "ours.txt", "ours", "chore(release): 0.2.0")
	g := openGateway(t, dir)

	err = g.Push(context.Background(), "master")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrPushRejected), "got %v", err)
	assert.False(t, errs.Retryable(err))
}

func TestOutgoingCommitsRefreshesUpstream(t *testing.T) {
	dir, r, bare := newRepoWithRemote(t)
	g := openGateway(t, dir)
	ctx := context.Background()

	base, err := r.Head()
	require.NoError(t, err)
	h := commitFile(t, r, dir, "CHANGELOG.md", "# Changelog\n", "chore(release): 0.2.0")
	require.NoError(t, g.Push(ctx, "master"))
	require.True(t, g.VerifyPushed(ctx, "master", CommitID(h.String())))

	// The remote branch is reset behind the local tracking ref.
	remote, err := git.PlainOpen(bare)
	require.NoError(t, err)
	require.NoError(t, remote.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("master"), base.Hash())))

	assert.False(t, g.VerifyPushed(ctx, "master", CommitID(h.String())))
	out, err := g.OutgoingCommits(ctx, "master")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, CommitID(h.String()), out[0].ID)

	require.NoError(t, g.Push(ctx, "master"))
	assert.True(t, g.VerifyPushed(ctx, "master", CommitID(h.String())))
}

func TestPushWithoutRemote(t *testing.T) {
	dir, _ := newRepo(t)
	g := openGateway(t, dir)

	err := g.Push(context.Background(), "master")
	assert.True(t, errors.Is(err, errs.ErrNoRemote), "got %v", err)
	assert.False(t, g.VerifyPushed(context.Background(), "master", "abc"))
}

func TestClassifyPushError(t *testing.T) {
	ctx := context.Background()
	expired, cancel := context.WithTimeout(ctx, -time.Second)
	defer cancel()

	cases := []struct {
		name string
		ctx  context.Context
		err  error
		want errs.Kind
	}{
		{"non fast forward", ctx, git.ErrNonFastForwardUpdate, errs.PushRejected},
		{"server rejected", ctx, errors.New("command error on refs/heads/main: rejected"), errs.PushRejected},
		{"remote missing", ctx, git.ErrRemoteNotFound, errs.NoRemote},
		{"connection refused", ctx, errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), errs.NetworkError},
		{"deadline", expired, context.DeadlineExceeded, errs.NetworkError},
		{"other", ctx, errors.New("object not found"), errs.RepositoryError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errs.KindOf(classifyPushError(tc.ctx, tc.err)))
		})
	}
}

func TestCredentialsAuthMethod(t *testing.T) {
	m, err := Credentials{}.AuthMethod()
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = Credentials{Token: "s3cret"}.AuthMethod()
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "http-basic-auth", m.Name())

	_, err = Credentials{SSHKeyPath: filepath.Join(t.TempDir(), "missing")}.AuthMethod()
	assert.Error(t, err)
}

func TestCommitIDShort(t *testing.T) {
	assert.Equal(t, "0123abcd", CommitID("0123abcdef0123").Short())
	assert.Equal(t, "abc", CommitID("abc").Short())
}
