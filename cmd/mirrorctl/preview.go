package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var previewMirrorID uint

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "List the issues the next push would send",
	Long: `List, per project of the mirror, the local issues the next push would
create or update on that project's tracker. Nothing is written.

Examples:
  mirrorctl preview --mirror 3`,
	Args: cobra.NoArgs,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().UintVarP(&previewMirrorID, "mirror", "m", 0, "Mirror ID (required)")
	_ = previewCmd.MarkFlagRequired("mirror")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}

	pending, err := e.runner.Pending(previewMirrorID)
	if err != nil {
		return fmt.Errorf("preview mirror %d: %w", previewMirrorID, err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, pending)
	}

	for _, group := range pending {
		fmt.Fprintf(out, "%s (project %d): %d pending\n", group.ProjectName, group.ProjectID, len(group.Issues))
		if len(group.Issues) == 0 {
			continue
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, issue := range group.Issues {
			fmt.Fprintf(tw, "  #%d\t%s\t%s\n", issue.ID, issue.UpdatedAt.Format("2006-01-02 15:04"), issue.Subject)
		}
		tw.Flush()
	}
	return nil
}
