package main

import (
	"fmt"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/spf13/cobra"
)

// Step command flags
var (
	stepMirrorID  uint
	stepProjectID uint
	stepFull      bool
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Copy remote changes of one project into the local database",
	Long: `Pull one project of a mirror.

The pull is incremental from the start of the last clean pull unless
--full is given. Without --project both projects of the mirror are pulled.

Examples:
  mirrorctl pull --mirror 3
  mirrorctl pull --mirror 3 --project 12 --full`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep(cmd, models.SyncTypePull)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Write pending local changes to one project's tracker",
	Long: `Push one project of a mirror.

Without --project both projects of the mirror are pushed. Use
"mirrorctl preview" to see what would be sent.

Examples:
  mirrorctl push --mirror 3 --project 12`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep(cmd, models.SyncTypePush)
	},
}

func init() {
	for _, c := range []*cobra.Command{pullCmd, pushCmd} {
		c.Flags().UintVarP(&stepMirrorID, "mirror", "m", 0, "Mirror ID (required)")
		c.Flags().UintVarP(&stepProjectID, "project", "p", 0, "Project ID, one of the mirror's two projects")
		_ = c.MarkFlagRequired("mirror")
		rootCmd.AddCommand(c)
	}
	pullCmd.Flags().BoolVar(&stepFull, "full", false, "Fetch every remote issue instead of only recent changes")
}

func runStep(cmd *cobra.Command, kind string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}

	projects := []uint{stepProjectID}
	if stepProjectID == 0 {
		var mirror models.Mirror
		if err := e.db.First(&mirror, stepMirrorID).Error; err != nil {
			return fmt.Errorf("loading mirror %d: %w", stepMirrorID, err)
		}
		projects = []uint{mirror.ProjectID, mirror.MirrorProjectID}
	}

	var logs []*models.SyncLog
	var stepErr error
	for _, projectID := range projects {
		log, err := e.runner.RunStep(ctx, stepMirrorID, projectID, kind, stepFull)
		if log != nil {
			logs = append(logs, log)
		}
		if err != nil {
			stepErr = fmt.Errorf("%s of project %d: %w", kind, projectID, err)
			break
		}
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), logs); err != nil {
			return err
		}
	} else if len(logs) > 0 {
		if err := printSyncLogs(cmd.OutOrStdout(), e.db, logs); err != nil {
			return err
		}
	}
	return stepErr
}
