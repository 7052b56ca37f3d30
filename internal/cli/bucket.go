package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/kvblob/internal/models"
)

var bucketTags []string

var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Create and inspect buckets",
}

var bucketCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a bucket",
	Long: `Create a bucket on the server.

Examples:
  kvblob bucket create photos
  kvblob bucket create photos --tag env:prod --tag team:media`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newClient().CreateBucket(cmd.Context(), args[0], bucketTags)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Created bucket %s\n", b.Name)
		printBucket(cmd.OutOrStdout(), b)
		return nil
	},
}

var bucketGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show a bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newClient().GetBucket(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printBucket(cmd.OutOrStdout(), b)
		return nil
	},
}

func init() {
	addRemoteFlags(bucketCmd)
	bucketCmd.AddCommand(bucketCreateCmd, bucketGetCmd)
	bucketCreateCmd.Flags().StringArrayVarP(&bucketTags, "tag", "t", nil, "Tag to attach, repeat for multiple")
}

func printBucket(w io.Writer, b *models.Bucket) {
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(w, "bucket %s\n", b.Name)
	fmt.Fprintf(w, "Created: %s (%s)\n", b.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(b.CreatedAt))
	if len(b.Tags) > 0 {
		fmt.Fprintf(w, "Tags:    %s\n", strings.Join(b.Tags, ", "))
	}
}
