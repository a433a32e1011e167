package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/pipeline"
)

// statusInfo is the JSON shape of `releasekit status`.
type statusInfo struct {
	Version     string                  `json:"version,omitempty"`
	Initialized bool                    `json:"initialized"`
	VersionFile string                  `json:"version_file"`
	Handoff     *pipeline.PipelineState `json:"handoff,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current version and any release in progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		store := newStore(cfg)

		info := statusInfo{VersionFile: store.VersionPath()}
		current, err := store.ReadCurrent()
		switch {
		case err == nil:
			info.Initialized = true
			info.Version = current.String()
		case !errors.Is(err, errs.ErrNotFound):
			return err
		}
		if info.Handoff, err = store.LoadHandoff(); err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), info)
		}

		w := cmd.OutOrStdout()
		if !info.Initialized {
			fmt.Fprintf(w, "Version:  not initialized (run `releasekit init`)\n")
		} else {
			fmt.Fprintf(w, "Version:  %s\n", info.Version)
		}
		ps := info.Handoff
		if ps == nil {
			fmt.Fprintln(w, "Release:  none in progress")
			return nil
		}
		fmt.Fprintf(w, "Release:  %s (%s", ps.NewVersion, ps.BumpKind)
		if ps.PreviousVersion != nil {
			fmt.Fprintf(w, " from %s", ps.PreviousVersion)
		}
		fmt.Fprintln(w, ")")
		fmt.Fprintf(w, "Run:      %s\n", ps.RunID)
		fmt.Fprintf(w, "Started:  %s\n", ps.CreatedAt)
		if ps.HasCommit() {
			fmt.Fprintf(w, "Commit:   %s %s\n", shortID(ps.CommitID), ps.CommitMessage)
		} else {
			fmt.Fprintln(w, "Commit:   not yet committed")
		}
		return nil
	},
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
