package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/media-publisher/internal/lifecycle"
)

var (
	cleanupJobFlag  string
	cleanupPathFlag string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete the objects a job references, or one uploaded object",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (cleanupJobFlag == "") == (cleanupPathFlag == "") {
			return fmt.Errorf("exactly one of --job or --path is required")
		}
		d := storageDeps()
		var (
			report *lifecycle.Report
			err    error
		)
		if cleanupJobFlag != "" {
			report, err = d.lifecycle.CleanupJob(cmd.Context(), cleanupJobFlag)
		} else {
			report, err = d.lifecycle.CleanupPath(cmd.Context(), cleanupPathFlag)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), report)
		}
		fmt.Fprintln(cmd.OutOrStdout(), reportTable(report))
		if len(report.Failures) > 0 {
			return fmt.Errorf("%d object(s) could not be deleted", len(report.Failures))
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupJobFlag, "job", "", "Job whose objects to delete")
	cleanupCmd.Flags().StringVar(&cleanupPathFlag, "path", "", "Object key in the upload bucket")
}

func reportTable(r *lifecycle.Report) string {
	rows := make([][]string, 0, len(r.Deleted)+len(r.Failures))
	for _, ref := range r.Deleted {
		rows = append(rows, []string{ref.Bucket, ref.Key, "deleted"})
	}
	for _, f := range r.Failures {
		rows = append(rows, []string{f.Bucket, f.Key, "failed: " + f.Error})
	}
	return renderTable([]string{"Bucket", "Key", "Result"}, rows, nil)
}
