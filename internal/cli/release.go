package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/orchestrator"
	"github.com/lucasnoah/releasekit/internal/stage"
	"github.com/lucasnoah/releasekit/internal/version"
)

// bumpRequest parses "<kind> [version]" positional arguments.
func bumpRequest(args []string) (stage.Request, error) {
	kind, err := version.ParseKind(args[0])
	if err != nil {
		return stage.Request{}, err
	}
	req := stage.Request{Kind: kind}
	if len(args) > 1 {
		if kind != version.Custom {
			return stage.Request{}, errs.Newf(errs.InvalidInput, "parse arguments", "an explicit version is only accepted with the custom kind, got %s", kind)
		}
		req.Custom = args[1]
	}
	return req, nil
}

// runStageCommand runs one stage on its own and reports the result.
func runStageCommand(cmd *cobra.Command, name stage.Name, req stage.Request) (*orchestrator.Result, *runtime, error) {
	rt, cleanup, err := newRuntime(cmd)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()

	res, err := rt.orch.RunStage(cmd.Context(), name, req)
	if err != nil {
		return nil, nil, err
	}
	if res.Err != nil {
		printFailure(cmd.ErrOrStderr(), res)
		return res, rt, reportedError{res.Err}
	}
	return res, rt, nil
}

// reportedError marks an error whose details were already printed.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// Reported reports whether err was already printed by the command that
// returned it.
func Reported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

// printFailure reports the failing stage and the durable state left behind
// for the rerun.
func printFailure(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "Release halted at stage %s: %v\n", res.FailedStage, errsCause(res.Err))
	if res.Version != "" {
		fmt.Fprintf(w, "  version:  %s\n", res.Version)
	}
	if res.State == nil {
		fmt.Fprintln(w, "  hand-off: none")
		return
	}
	fmt.Fprintf(w, "  hand-off: run %s, %s", res.State.RunID, res.State.NewVersion)
	if res.State.PreviousVersion != nil {
		fmt.Fprintf(w, " (from %s)", res.State.PreviousVersion)
	}
	if res.State.HasCommit() {
		fmt.Fprintf(w, ", commit %s", shortID(res.State.CommitID))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fix the cause and rerun to resume, or run `releasekit abort` to discard the release.")
}

func errsCause(err error) error {
	var se *orchestrator.StageError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var bumpVersionCmd = &cobra.Command{
	Use:   "bump-version <patch|minor|major|custom> [version]",
	Short: "Compute and record the next version",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := bumpRequest(args)
		if err != nil {
			return err
		}
		res, _, err := runStageCommand(cmd, stage.ComputeVersion, req)
		if err != nil {
			return err
		}
		if ps := res.State; ps != nil {
			if ps.PreviousVersion != nil {
				cmd.Printf("Version %s -> %s\n", ps.PreviousVersion, ps.NewVersion)
			} else {
				cmd.Printf("Version %s\n", ps.NewVersion)
			}
		}
		return nil
	},
}

var syncDocsCmd = &cobra.Command{
	Use:   "sync-docs",
	Short: "Propagate the version into documentation and source files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		override, _ := cmd.Flags().GetString("version")
		_, rt, err := runStageCommand(cmd, stage.Propagate, stage.Request{Version: override})
		if rt != nil && rt.env.Report != nil {
			r := rt.env.Report
			for _, f := range r.Failures {
				cmd.PrintErrf("  failed: %s: %v\n", f.Path, f.Err)
			}
			if err == nil {
				cmd.Printf("Updated %d of %d files\n", r.FilesChanged, r.FilesExamined)
				for _, p := range r.Changed {
					cmd.Printf("  %s\n", p)
				}
			}
		}
		return err
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Stage and commit the release changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, _ := cmd.Flags().GetString("message")
		res, _, err := runStageCommand(cmd, stage.Commit, stage.Request{Message: msg})
		if err != nil {
			return err
		}
		switch {
		case res.NothingToDo:
			cmd.Println("Nothing to commit.")
		case res.State.HasCommit():
			cmd.Printf("Committed %s: %s\n", shortID(res.State.CommitID), res.State.CommitMessage)
		default:
			cmd.Println("Committed.")
		}
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the current branch and clear the release hand-off",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, _, err := runStageCommand(cmd, stage.Push, stage.Request{})
		if err != nil {
			return err
		}
		if res.NothingToDo {
			cmd.Println("Nothing to push.")
			return nil
		}
		if res.Version != "" {
			cmd.Printf("Pushed release %s\n", res.Version)
		} else {
			cmd.Println("Pushed.")
		}
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <patch|minor|major|custom> [version]",
	Short: "Run every release stage in order",
	Long: `Run compute_version, propagate_docs, commit_changes and push_changes in
order. The run stops at the first failing stage and leaves the hand-off in
place, so rerunning the same command resumes without bumping twice.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := bumpRequest(args)
		if err != nil {
			return err
		}
		req.Message, _ = cmd.Flags().GetString("message")

		rt, cleanup, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := rt.orch.Run(cmd.Context(), req)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		}
		if res.Err != nil {
			printFailure(cmd.ErrOrStderr(), res)
			return reportedError{res.Err}
		}
		if format == "json" {
			return nil
		}
		if res.NothingToDo {
			cmd.Printf("Release %s: %s\n", res.Version, res.Message)
			return nil
		}
		cmd.Printf("Released %s (%d files updated)\n", res.Version, res.FilesChanged)
		return nil
	},
}

func init() {
	syncDocsCmd.Flags().String("version", "", "propagate this version instead of the recorded one")
	commitCmd.Flags().StringP("message", "m", "", "commit message (default: the configured template)")
	releaseCmd.Flags().StringP("message", "m", "", "commit message (default: the configured template)")
	releaseCmd.Flags().String("format", "text", "output format: text or json")
}
