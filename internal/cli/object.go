package cli

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/kvblob/internal/client"
)

var (
	objectHash        string
	objectContentType string
	objectTags        []string
	objectOutput      string
)

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Upload, download and delete objects",
}

var objectPutCmd = &cobra.Command{
	Use:   "put <bucket> <key> [file]",
	Short: "Upload an object",
	Long: `Upload a file (or stdin when the file is omitted or "-") as bucket/key.

The SHA-256 is computed locally unless --hash is given, in which case the
server rejects the upload if the content does not match.

Examples:
  kvblob object put photos cat.png ./cat.png
  kvblob object put photos cat.png ./cat.png --tag owner:alice
  echo hello | kvblob object put notes greeting --content-type text/plain`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runObjectPut,
}

var objectGetCmd = &cobra.Command{
	Use:   "get <bucket> <key>",
	Short: "Download an object",
	Long: `Download bucket/key to stdout, or to a file with -o.

Examples:
  kvblob object get photos cat.png -o cat.png
  kvblob object get notes greeting`,
	Args: cobra.ExactArgs(2),
	RunE: runObjectGet,
}

var objectRmCmd = &cobra.Command{
	Use:     "rm <bucket> <key>",
	Aliases: []string{"delete"},
	Short:   "Delete an object",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteObject(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", args[0], args[1])
		return nil
	},
}

func init() {
	addRemoteFlags(objectCmd)
	objectCmd.AddCommand(objectPutCmd, objectGetCmd, objectRmCmd)

	pf := objectPutCmd.Flags()
	pf.StringVar(&objectHash, "hash", "", "Declared SHA-256 of the content (hex)")
	pf.StringVar(&objectContentType, "content-type", "", "Content type (default from the file extension)")
	pf.StringArrayVarP(&objectTags, "tag", "t", nil, "Tag to attach, repeat for multiple")

	objectGetCmd.Flags().StringVarP(&objectOutput, "output", "o", "", "Write to file instead of stdout")
}

func runObjectPut(cmd *cobra.Command, args []string) error {
	bucket, key := args[0], args[1]
	path := "-"
	if len(args) == 3 {
		path = args[2]
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	contentType := objectContentType
	if contentType == "" && path != "-" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}

	obj, err := newClient().PutObject(cmd.Context(), bucket, key, data, client.PutOptions{
		Hash:        objectHash,
		ContentType: contentType,
		Tags:        objectTags,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "Stored %s/%s", bucket, key)
	fmt.Fprintf(out, " (%s, %s)\n", humanize.IBytes(uint64(len(data))), obj.ContentType)
	color.New(color.FgYellow).Fprintf(out, "hash %s\n", obj.Hash)
	return nil
}

func runObjectGet(cmd *cobra.Command, args []string) error {
	obj, err := newClient().GetObject(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	if objectOutput == "" {
		_, err = io.Copy(cmd.OutOrStdout(), obj.Body)
		return err
	}

	f, err := os.Create(objectOutput)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, obj.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", objectOutput, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s to %s\n", humanize.IBytes(uint64(n)), objectOutput)
	return nil
}
