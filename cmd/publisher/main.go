// Command publisher is the operator CLI for the media publishing backend.
//
// It talks to the same ledger, buckets and SSM parameters as the Lambdas,
// configured through the same environment variables (a .env file in the
// working directory is loaded first).
//
//	publisher jobs list --site https://blog.example
//	publisher jobs get <job_id>
//	publisher jobs delete <job_id>
//	publisher cleanup --job <job_id> | --path <key>
//	publisher grant get --bucket <bucket> --key <key> [--expires 600]
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fpang/media-publisher/internal/logging"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Inspect and maintain media publishing jobs",
	Long: `publisher lists, inspects and deletes publish jobs, removes the objects a
job left behind and issues download grants for stored media.

Configuration comes from the environment (IN_BUCKET, OUT_BUCKET, JOBS_TABLE,
JOBS_SITE_INDEX, API_TOKEN or SSM_API_TOKEN_PARAM), optionally from a .env
file in the working directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of tables")
	rootCmd.AddCommand(jobsCmd, cleanupCmd, grantCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
