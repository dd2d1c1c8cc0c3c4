package cli

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/transferpipe/core/internal/transfer"
	strutil "github.com/transferpipe/core/internal/util/strings"
)

func newDownloadCmd() *cobra.Command {
	var sourceURL string
	var folderURL string
	var destDir string

	cmd := &cobra.Command{
		Use:   "download <file-name> [more...]",
		Short: "Download one or more files from a content-repository folder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceURL == "" && folderURL == "" {
				return fmt.Errorf("download: one of --source-url (single file) or --folder-url (named files) is required")
			}
			if destDir == "" {
				destDir = "."
			}

			specs := make([]transfer.DownloadFileSpec, 0, len(args))
			for _, name := range args {
				src := sourceURL
				if src == "" {
					src = folderURL + "/" + path.Base(name)
				}
				specs = append(specs, transfer.DownloadFileSpec{
					FileName:   filepath.Base(name),
					SourceURL:  src,
					TargetPath: filepath.Join(destDir, filepath.Base(name)),
				})
			}

			sess, err := newSession(len(specs), 0)
			if err != nil {
				return err
			}
			defer sess.controller.Close()

			var summary *transfer.Summary
			err = sess.runWithProgress(GetContext(), func() error {
				var runErr error
				summary, runErr = sess.controller.DownloadFiles(GetContext(), transfer.DownloadOptions{
					URL:           folderURL,
					DownloadFiles: specs,
				})
				return runErr
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "downloaded %d %s, %d failed\n",
				summary.Succeeded, strutil.Pluralize("file", int64(summary.Succeeded)), summary.Failed)
			for _, e := range summary.Errors {
				fmt.Fprintf(os.Stderr, "  %v\n", e)
			}
			if summary.Failed > 0 {
				return fmt.Errorf("download: %d of %d transfers failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceURL, "source-url", "", "exact source URL for a single-file download")
	cmd.Flags().StringVar(&folderURL, "folder-url", "", "source folder URL; each argument is a file name within it")
	cmd.Flags().StringVar(&destDir, "dest", "", "destination directory (default: current directory)")

	return cmd
}
