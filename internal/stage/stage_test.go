package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/pipeline"
	"github.com/lucasnoah/releasekit/internal/propagate"
	"github.com/lucasnoah/releasekit/internal/repo"
	"github.com/lucasnoah/releasekit/internal/repo/repotest"
	"github.com/lucasnoah/releasekit/internal/retry"
	"github.com/lucasnoah/releasekit/internal/version"
)

var releaseTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	dir  string
	env  *Env
	fake *repotest.Fake
}

// newFixture lays out a project at 1.4.2 whose working tree is watched by a
// fake gateway, so propagated files show up as changes.
func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := pipeline.NewStore(filepath.Join(dir, "VERSION"), filepath.Join(dir, ".git", "releasekit"))
	require.NoError(t, store.WriteCurrent(version.MustParse("1.4.2")))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	fs := osfs.New(dir)
	fake := repotest.New()
	require.NoError(t, fake.Watch(fs))

	env := &Env{
		Store:      store,
		Gateway:    fake,
		Propagator: propagate.New(fs, propagate.Options{Logger: zerolog.Nop()}),
		Settings: Settings{
			RequireClean:  true,
			CommitMessage: "chore(release): {{version}}",
			Retry:         retry.Policy{Mode: retry.Fixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 2},
			VerifyPush:    true,
		},
		Logger: zerolog.Nop(),
		Clock:  func() time.Time { return releaseTime },
	}
	return &fixture{dir: dir, env: env, fake: fake}
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644))
}

func run(t *testing.T, f *fixture, name Name) error {
	t.Helper()
	for _, s := range All() {
		if s.Name() == name {
			return s.Run(context.Background(), f.env)
		}
	}
	t.Fatalf("no stage %s", name)
	return nil
}

func TestAllFollowsOrder(t *testing.T) {
	stages := All()
	require.Len(t, stages, len(Order))
	for i, s := range stages {
		assert.Equal(t, Order[i], s.Name())
	}
}

func TestComputeVersionBumps(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Request = Request{Kind: version.Minor}

	require.NoError(t, run(t, f, ComputeVersion))

	assert.Equal(t, "1.5.0\n", f.read(t, "VERSION"))
	ps, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.Equal(t, version.MustParse("1.5.0"), ps.NewVersion)
	require.NotNil(t, ps.PreviousVersion)
	assert.Equal(t, version.MustParse("1.4.2"), *ps.PreviousVersion)
	assert.Equal(t, version.Minor, ps.BumpKind)
	assert.True(t, ps.Timestamp.Equal(releaseTime))
	assert.NotEmpty(t, ps.RunID)
	assert.Equal(t, ps.RunID, f.env.Handoff.RunID)
}

func TestComputeVersionRequiresCleanTree(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "scratch.txt", "wip")
	f.env.Request = Request{Kind: version.Patch}

	err := run(t, f, ComputeVersion)
	assert.True(t, errors.Is(err, errs.ErrPrecondition), "got %v", err)
	assert.Contains(t, err.Error(), "scratch.txt")
	assert.Equal(t, "1.4.2\n", f.read(t, "VERSION"))
	ps, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)
	assert.Nil(t, ps)

	f.env.Settings.RequireClean = false
	require.NoError(t, run(t, f, ComputeVersion))
	assert.Equal(t, "1.4.3\n", f.read(t, "VERSION"))
}

func TestComputeVersionCustomWithoutTarget(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Request = Request{Kind: version.Custom}

	err := run(t, f, ComputeVersion)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
	assert.Equal(t, "1.4.2\n", f.read(t, "VERSION"))
	assert.Nil(t, f.env.Handoff)
}

func TestComputeVersionRejectsNonIncrease(t *testing.T) {
	for _, target := range []string{"1.4.2", "1.4.1", "0.9.9"} {
		t.Run(target, func(t *testing.T) {
			f := newFixture(t, nil)
			f.env.Request = Request{Kind: version.Custom, Custom: target}

			err := run(t, f, ComputeVersion)
			assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
			assert.Equal(t, "1.4.2\n", f.read(t, "VERSION"))
		})
	}
}

func TestComputeVersionCustom(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Request = Request{Kind: version.Custom, Custom: "2.0.0"}

	require.NoError(t, run(t, f, ComputeVersion))
	assert.Equal(t, "2.0.0\n", f.read(t, "VERSION"))
}

func TestComputeVersionResumesMatchingHandoff(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Request = Request{Kind: version.Minor}
	require.NoError(t, run(t, f, ComputeVersion))
	runID := f.env.Handoff.RunID

	// Simulate a crash between saving the hand-off and writing the record.
	f.write(t, "VERSION", "1.4.2\n")
	require.NoError(t, f.env.LoadHandoff())

	require.NoError(t, run(t, f, ComputeVersion))
	assert.Equal(t, "1.5.0\n", f.read(t, "VERSION"), "no double bump")
	assert.Equal(t, runID, f.env.Handoff.RunID)
}

func TestComputeVersionRejectsMismatchedHandoff(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Request = Request{Kind: version.Minor}
	require.NoError(t, run(t, f, ComputeVersion))

	f.env.Request = Request{Kind: version.Major}
	err := run(t, f, ComputeVersion)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
	assert.Contains(t, err.Error(), "abort")

	f.env.Request = Request{Kind: version.Custom, Custom: "1.6.0"}
	f.env.Handoff.BumpKind = version.Custom
	err = run(t, f, ComputeVersion)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
	assert.Equal(t, "1.5.0\n", f.read(t, "VERSION"))
}

func TestComputeVersionRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Request = Request{Kind: "nano"}
	err := run(t, f, ComputeVersion)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
}

func TestPropagateUsesHandoff(t *testing.T) {
	f := newFixture(t, map[string]string{
		"README.md": "# Tool\n\nVersion: 1.4.2\n\nLast updated: 2020-01-01\n",
	})
	f.env.Request = Request{Kind: version.Minor}
	require.NoError(t, run(t, f, ComputeVersion))

	require.NoError(t, run(t, f, Propagate))
	assert.Equal(t, "# Tool\n\nVersion: 1.5.0\n\nLast updated: 2026-03-14\n", f.read(t, "README.md"))
	require.NotNil(t, f.env.Report)
	assert.Contains(t, f.env.Report.Changed, "README.md")
	assert.Contains(t, f.read(t, "CHANGELOG.md"), "## [1.5.0] - 2026-03-14")
}

func TestPropagateResumeIsIdentical(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/page.md": "---\nlastmod: 2020-01-01T00:00:00Z\n---\nCurrent version: 1.4.2\n",
	})
	f.env.Request = Request{Kind: version.Patch}
	require.NoError(t, run(t, f, ComputeVersion))
	require.NoError(t, run(t, f, Propagate))
	first := f.read(t, "docs/page.md")

	// A later process resumes with a different clock.
	f.env.Clock = func() time.Time { return releaseTime.Add(48 * time.Hour) }
	require.NoError(t, f.env.LoadHandoff())
	require.NoError(t, run(t, f, Propagate))
	assert.Equal(t, first, f.read(t, "docs/page.md"))
	assert.Equal(t, 0, f.env.Report.FilesChanged)
	assert.Contains(t, first, "lastmod: 2026-03-14T09:30:00Z")
}

func TestPropagateStandalone(t *testing.T) {
	f := newFixture(t, map[string]string{"README.md": "Version: 1.0.0\n"})
	f.env.Propagator = propagate.New(osfs.New(f.dir), propagate.Options{Changelog: "-", Logger: zerolog.Nop()})

	require.NoError(t, run(t, f, Propagate))
	assert.Equal(t, "Version: 1.4.2\n", f.read(t, "README.md"))

	f.env.Request = Request{Version: "3.1.4"}
	require.NoError(t, run(t, f, Propagate))
	assert.Equal(t, "Version: 3.1.4\n", f.read(t, "README.md"))

	f.env.Request = Request{Version: "3.1"}
	err := run(t, f, Propagate)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
}

func TestPropagateOverrideConflictsWithHandoff(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Request = Request{Kind: version.Minor}
	require.NoError(t, run(t, f, ComputeVersion))

	f.env.Request = Request{Version: "9.9.9"}
	err := run(t, f, Propagate)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
}

func TestPropagateWritesReleaseNotes(t *testing.T) {
	f := newFixture(t, nil)
	f.fake.Outgoing = []repo.CommitSummary{
		{Subject: "docs: typo", Message: "docs: typo"},
		{Subject: "feat(cli): add status command", Message: "feat(cli): add status command"},
	}
	f.env.Request = Request{Kind: version.Minor}
	require.NoError(t, run(t, f, ComputeVersion))
	require.NoError(t, run(t, f, Propagate))

	changelog := f.read(t, "CHANGELOG.md")
	assert.Contains(t, changelog, "- **cli:** add status command")
	assert.NotContains(t, changelog, "typo")
}

func TestCommitRecordsHandoff(t *testing.T) {
	f := newFixture(t, map[string]string{"README.md": "Version: 1.4.2\n"})
	f.env.Request = Request{Kind: version.Minor}
	require.NoError(t, run(t, f, ComputeVersion))
	require.NoError(t, run(t, f, Propagate))

	require.NoError(t, run(t, f, Commit))
	require.Equal(t, []string{"chore(release): 1.5.0"}, f.fake.CommitMsgs)
	ps, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)
	assert.Equal(t, string(f.fake.Head), ps.CommitID)
	assert.Equal(t, "chore(release): 1.5.0", ps.CommitMessage)

	// Re-running reuses the recorded commit.
	require.NoError(t, run(t, f, Commit))
	assert.Len(t, f.fake.CommitMsgs, 1)
}

func TestCommitAdoptsRewrittenHead(t *testing.T) {
	f := newFixture(t, map[string]string{"README.md": "Version: 1.4.2\n"})
	f.env.Request = Request{Kind: version.Minor}
	require.NoError(t, run(t, f, ComputeVersion))
	require.NoError(t, run(t, f, Propagate))
	require.NoError(t, run(t, f, Commit))

	// A rebase rewrites the release commit.
	rebased := repo.CommitID(strings.Repeat("f", 40))
	f.fake.Head = rebased
	f.fake.Outgoing[0].ID = rebased

	require.NoError(t, run(t, f, Commit))
	assert.Len(t, f.fake.CommitMsgs, 1)
	ps, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)
	assert.Equal(t, string(rebased), ps.CommitID)
	assert.Equal(t, string(rebased), f.env.Handoff.CommitID)

	require.NoError(t, run(t, f, Push))
	assert.Equal(t, rebased, f.fake.Remote["main"])
	assert.Nil(t, f.env.Handoff)
}

func TestCommitNothingToCommitIsBenign(t *testing.T) {
	f := newFixture(t, nil)
	err := run(t, f, Commit)
	assert.True(t, errors.Is(err, errs.ErrNothingToCommit), "got %v", err)
	assert.True(t, errs.Benign(err))
}

func TestCommitMessageOverrideAndValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "a.txt", "a")
	f.env.Settings.Conventional = true

	f.env.Request = Request{Message: "released stuff"}
	err := run(t, f, Commit)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
	assert.Empty(t, f.fake.CommitMsgs)

	f.env.Request = Request{Message: "chore: ship 1.4.2"}
	require.NoError(t, run(t, f, Commit))
	assert.Equal(t, []string{"chore: ship 1.4.2"}, f.fake.CommitMsgs)
}

func TestPushClearsHandoff(t *testing.T) {
	f := newFixture(t, map[string]string{"README.md": "Version: 1.4.2\n"})
	f.env.Request = Request{Kind: version.Minor}
	for _, name := range Order {
		require.NoError(t, run(t, f, name), "stage %s", name)
	}

	assert.Nil(t, f.env.Handoff)
	ps, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)
	assert.Nil(t, ps)
	assert.Equal(t, f.fake.Head, f.fake.Remote["main"])
	assert.Equal(t, 1, f.fake.PushCalls)
}

func TestPushNothingOutgoing(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.env.Store.SaveHandoff(&pipeline.PipelineState{
		RunID:      "r",
		NewVersion: version.MustParse("1.4.2"),
		CommitID:   string(f.fake.Head),
	}))
	require.NoError(t, f.env.LoadHandoff())

	require.NoError(t, run(t, f, Push))
	assert.Equal(t, "nothing to push", f.env.Skipped)
	assert.Equal(t, 0, f.fake.PushCalls)
	ps, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)
	assert.Nil(t, ps)
}

func TestPushBeforeCommitKeepsHandoff(t *testing.T) {
	f := newFixture(t, map[string]string{"README.md": "Version: 1.4.2\n"})
	f.env.Request = Request{Kind: version.Minor}
	require.NoError(t, run(t, f, ComputeVersion))
	require.NoError(t, run(t, f, Propagate))
	before, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)

	require.NoError(t, run(t, f, Push))
	assert.Equal(t, "nothing to push", f.env.Skipped)
	assert.Equal(t, 0, f.fake.PushCalls)

	after, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)
	require.NotNil(t, after, "uncommitted release must keep its hand-off")
	assert.Equal(t, before.RunID, after.RunID)
	assert.Equal(t, before.Timestamp, after.Timestamp)
	require.NotNil(t, after.PreviousVersion)
	assert.Equal(t, "1.4.2", after.PreviousVersion.String())

	// The release can still be finished afterwards.
	require.NoError(t, run(t, f, Commit))
	require.NoError(t, run(t, f, Push))
	assert.Equal(t, f.fake.Head, f.fake.Remote["main"])
}

func TestPushRetriesNetworkErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "a.txt", "a")
	require.NoError(t, run(t, f, Commit))
	f.fake.PushErrs = []error{errs.New(errs.NetworkError, "push", "connection reset")}

	require.NoError(t, run(t, f, Push))
	assert.Equal(t, 2, f.fake.PushCalls)
}

func TestPushRejectedIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Request = Request{Kind: version.Patch}
	require.NoError(t, run(t, f, ComputeVersion))
	require.NoError(t, run(t, f, Commit))
	f.fake.PushErrs = []error{errs.New(errs.PushRejected, "push", "non-fast-forward")}

	err := run(t, f, Push)
	assert.True(t, errors.Is(err, errs.ErrPushRejected), "got %v", err)
	assert.Equal(t, 1, f.fake.PushCalls)
	ps, err := f.env.Store.LoadHandoff()
	require.NoError(t, err)
	require.NotNil(t, ps, "hand-off survives a rejected push")
	assert.True(t, ps.HasCommit())
}

func TestPushUnverifiedStillSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "a.txt", "a")
	require.NoError(t, run(t, f, Commit))
	no := false
	f.fake.VerifyOverride = &no

	require.NoError(t, run(t, f, Push))
	assert.Contains(t, f.fake.Calls, "verify")
}

func TestPushDetachedHead(t *testing.T) {
	f := newFixture(t, nil)
	f.fake.Branch = ""
	err := run(t, f, Push)
	assert.True(t, errors.Is(err, errs.ErrDetachedHead), "got %v", err)
}

func TestRenderMessage(t *testing.T) {
	prev := version.MustParse("1.4.2")
	got := RenderMessage("release {{version}} (was {{previous}})", version.MustParse("1.5.0"), &prev)
	assert.Equal(t, "release 1.5.0 (was 1.4.2)", got)
	assert.Equal(t, "v2.0.0", RenderMessage("v{{version}}", version.MustParse("2.0.0"), nil))
}

func TestReleaseNotes(t *testing.T) {
	commits := []repo.CommitSummary{ // newest first
		{Subject: "Merge branch 'x'", Message: "Merge branch 'x'\n"},
		{Subject: "feat!: drop v1 API", Message: "feat!: drop v1 API"},
		{Subject: "chore(deps): bump", Message: "chore(deps): bump"},
		{Subject: "fix(parser): handle empty input", Message: "fix(parser): handle empty input\n\nDetails here.\n"},
	}
	notes := ReleaseNotes(commits)
	assert.Equal(t, []string{
		"**parser:** handle empty input",
		"**BREAKING** drop v1 API",
		"Merge branch 'x'",
	}, notes)
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("chore(release): 1.5.0"))
	assert.NoError(t, ValidateMessage("fix: thing\n\nbody text\n"))
	err := ValidateMessage("Release 1.5.0")
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
	assert.True(t, strings.Contains(err.Error(), "Release 1.5.0"))
}
