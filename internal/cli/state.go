package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/releasekit/internal/version"
)

// DefaultInitialVersion is written by `releasekit init` without an argument.
const DefaultInitialVersion = "0.1.0"

var initCmd = &cobra.Command{
	Use:   "init [version]",
	Short: "Create the version record",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := DefaultInitialVersion
		if len(args) == 1 {
			raw = args[0]
		}
		v, err := version.Parse(raw)
		if err != nil {
			return err
		}

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		store := newStore(cfg)

		written, err := store.InitCurrent(v)
		if err != nil {
			return err
		}
		if !written {
			current, err := store.ReadCurrent()
			if err != nil {
				return err
			}
			cmd.Printf("%s already records %s\n", store.VersionPath(), current)
			return nil
		}
		cmd.Printf("Initialized %s at %s\n", store.VersionPath(), v)
		return nil
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Discard the release in progress",
	Long: `Delete the release hand-off so the next bump starts a fresh release.

The version record and any files already propagated or committed are left
as they are; revert them with git if the release should not happen.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		store := newStore(cfg)

		ps, err := store.LoadHandoff()
		if err != nil {
			return err
		}
		if ps == nil {
			cmd.Println("No release in progress.")
			return nil
		}
		if err := store.ClearHandoff(); err != nil {
			return err
		}
		cmd.Printf("Discarded release %s (run %s).\n", ps.NewVersion, ps.RunID)
		if ps.PreviousVersion != nil {
			cmd.Printf("%s still records %s; the previous version was %s.\n", store.VersionPath(), ps.NewVersion, ps.PreviousVersion)
		}
		return nil
	},
}
