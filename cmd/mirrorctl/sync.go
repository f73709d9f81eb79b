package main

import (
	"fmt"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/spf13/cobra"
)

var syncMirrorID uint

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull then push every active mirror",
	Long: `Run mirrors in the foreground.

Each mirror pulls both of its projects and then pushes to both. Without
--mirror every active mirror runs, one after another. A mirror whose lock
is held by another process is reported and skipped.

Examples:
  mirrorctl sync
  mirrorctl sync --mirror 3 --json`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().UintVarP(&syncMirrorID, "mirror", "m", 0, "Run only this mirror (active or not)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}

	var results []*services.RunResult
	var runErr error
	if syncMirrorID != 0 {
		result, err := e.runner.RunMirror(ctx, syncMirrorID)
		if result != nil {
			results = append(results, result)
		}
		runErr = err
	} else {
		results, runErr = e.runner.RunAll(ctx)
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		var logs []*models.SyncLog
		for _, r := range results {
			logs = append(logs, r.Logs...)
		}
		if len(logs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No mirrors ran")
		} else if err := printSyncLogs(cmd.OutOrStdout(), e.db, logs); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("sync: %w", runErr)
	}
	return nil
}
