package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/store"
)

var (
	siteFlag string
	wpIDFlag string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List, inspect and delete jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a site's jobs, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if siteFlag == "" {
			return fmt.Errorf("--site is required")
		}
		d := ledgerDeps()
		summaries, err := d.lifecycle.ListBySite(cmd.Context(), siteFlag)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), summaries)
		}
		fmt.Fprintln(cmd.OutOrStdout(), summaryTable(summaries))
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job_id>",
	Short: "Show one job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := ledgerDeps()
		job, err := d.ledger.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), job)
		}
		fmt.Fprintln(cmd.OutOrStdout(), jobTable(job))
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job_id>",
	Short: "Delete a job record",
	Long: `Delete a job record. With API_TOKEN (or the SSM parameter) available the
master token authorizes the call; otherwise --site and --wp-id must match
the job.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := ledgerDeps()
		res, err := d.lifecycle.DeleteJob(cmd.Context(), args[0], lifecycle.Credentials{
			APIToken: d.masterToken,
			SiteURL:  siteFlag,
			WPID:     wpIDFlag,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.AlreadyAbsent {
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s was already absent\n", res.JobID)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", res.JobID)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&siteFlag, "site", "", "Site URL whose jobs to list")
	jobsDeleteCmd.Flags().StringVar(&siteFlag, "site", "", "Site URL owning the job")
	jobsDeleteCmd.Flags().StringVar(&wpIDFlag, "wp-id", "", "Tenant id owning the job")
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsDeleteCmd)
}

func formatTime(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func summaryRows(summaries []lifecycle.Summary) [][]string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{s.JobID, string(s.Platform), s.WPID, s.Status, s.MediaID, formatTime(s.UpdatedAt)})
	}
	return rows
}

func summaryTable(summaries []lifecycle.Summary) string {
	return renderTable(
		[]string{"Job", "Platform", "WP ID", "Status", "Media ID", "Updated"},
		summaryRows(summaries),
		nil,
	)
}

func jobTable(job *store.Job) string {
	rows := [][]string{
		{"job_id", job.ID},
		{"platform", string(job.Platform)},
		{"status", job.Status},
		{"terminal", strconv.FormatBool(job.Terminal)},
		{"wp_id", job.WPID},
		{"site_url", job.SiteURL},
		{"ig_user_id", job.IGUserID},
		{"in", joinLocator(job.InBucket, job.InKey)},
		{"out", joinLocator(job.OutBucket, job.OutKey)},
		{"media_id", job.MediaID},
		{"size_bytes", strconv.FormatInt(job.SizeBytes, 10)},
		{"error_stage", job.ErrorStage},
		{"error_detail", job.ErrorDetail},
		{"created_at", formatTime(job.CreatedAt)},
		{"updated_at", formatTime(job.UpdatedAt)},
	}
	for i, u := range job.MediaURLs {
		rows = append(rows, []string{fmt.Sprintf("media_urls[%d]", i), u})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func joinLocator(bucket, key string) string {
	if key == "" {
		return ""
	}
	return bucket + "/" + key
}
