package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/kvblob/internal/app"
	"github.com/kilupskalvis/kvblob/internal/objectstore"
)

var (
	reconcileDryRun bool
	reconcileRemote bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Delete blobs no metadata record refers to",
	Long: `Compare the blob tree with the metadata store and delete orphaned blobs.

Overwriting a key with different content leaves the previous blob behind in
its old shard. Reconcile finds those files and removes them. Records whose
blob is missing are reported but never changed.

By default the data directory is opened directly, which requires the server
to be stopped for file-locked engines such as bbolt. With --remote the pass
runs inside the server through POST /admin/reconcile.

Examples:
  kvblob reconcile --dry-run
  kvblob reconcile --remote --url http://10.0.0.5:3000 --admin-token s3cret`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	addRemoteFlags(reconcileCmd)
	reconcileCmd.Flags().BoolVarP(&reconcileDryRun, "dry-run", "n", false, "Report orphans without deleting them")
	reconcileCmd.Flags().BoolVar(&reconcileRemote, "remote", false, "Run on the server instead of the local data directory")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	var res *objectstore.ReconcileResult
	var err error
	if reconcileRemote {
		res, err = newClient().Reconcile(cmd.Context(), reconcileDryRun)
	} else {
		res, err = reconcileLocal(cmd)
	}
	if err != nil {
		return err
	}
	printReconcile(cmd.OutOrStdout(), res)
	return nil
}

func reconcileLocal(cmd *cobra.Command) (*objectstore.ReconcileResult, error) {
	a, err := app.Open(cmd.Context(), cfg, nil)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Objects.Reconcile(cmd.Context(), reconcileDryRun)
}

func printReconcile(w io.Writer, res *objectstore.ReconcileResult) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Fprintf(w, "Scanned %d records and %d blobs\n", res.RecordsScanned, res.BlobsScanned)
	for _, p := range res.Orphans {
		yellow.Fprintf(w, "  orphan  %s\n", p)
	}
	for _, k := range res.MissingBlobs {
		red.Fprintf(w, "  missing %s\n", k)
	}
	if res.UnreadableCount > 0 {
		red.Fprintf(w, "%d unreadable records skipped\n", res.UnreadableCount)
	}

	switch {
	case res.OrphansFound == 0:
		green.Fprintln(w, "No orphaned blobs")
	case res.DryRun:
		yellow.Fprintf(w, "Would delete %d orphaned blobs (%s)\n", res.OrphansFound, humanize.IBytes(uint64(res.BytesReclaimed)))
	default:
		green.Fprintf(w, "Deleted %d of %d orphaned blobs, reclaimed %s\n",
			res.OrphansDeleted, res.OrphansFound, humanize.IBytes(uint64(res.BytesReclaimed)))
	}
}
