package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/media-publisher/internal/gateway"
)

var (
	grantBucketFlag  string
	grantKeyFlag     string
	grantExpiresFlag int
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Issue object grants",
}

var grantGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Issue a download grant for a stored object",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := storageDeps()
		grant, err := d.grants.IssueGet(cmd.Context(), gateway.GetRequest{
			Bucket:  grantBucketFlag,
			Key:     grantKeyFlag,
			Expires: grantExpiresFlag,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), grant)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n(expires in %ds)\n", grant.URL, grant.ExpiresIn)
		return nil
	},
}

func init() {
	grantGetCmd.Flags().StringVar(&grantBucketFlag, "bucket", "", "Bucket (default: upload bucket)")
	grantGetCmd.Flags().StringVar(&grantKeyFlag, "key", "", "Object key")
	grantGetCmd.Flags().IntVar(&grantExpiresFlag, "expires", 0, "Lifetime in seconds (60-3600)")
	_ = grantGetCmd.MarkFlagRequired("key")
	grantCmd.AddCommand(grantGetCmd)
}
