package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/huangang/trackmirror/internal/models"
	"gorm.io/gorm"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSyncLogs prints one line per Pull or Push, then the recorded errors.
func printSyncLogs(w io.Writer, db *gorm.DB, logs []*models.SyncLog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOG\tMIRROR\tPROJECT\tTYPE\tSTATUS\tPROCESSED\tERRORS")
	for _, l := range logs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%d\t%d\n",
			l.ID, l.MirrorID, l.ProjectID, l.Type, l.Status, l.Processed, l.ErrorCount)
	}
	tw.Flush()

	for _, l := range logs {
		if l.ErrorCount == 0 {
			continue
		}
		var errs []models.SyncLogError
		if err := db.Where("sync_log_id = ?", l.ID).Order("id").Find(&errs).Error; err != nil {
			return fmt.Errorf("loading errors of log %d: %w", l.ID, err)
		}
		fmt.Fprintf(w, "\n%s #%d:\n", l.Type, l.ID)
		for _, e := range errs {
			fmt.Fprintf(w, "  - %s\n", e.Message)
		}
	}
	return nil
}
