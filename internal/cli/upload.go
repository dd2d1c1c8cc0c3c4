package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/transferpipe/core/internal/transfer"
	strutil "github.com/transferpipe/core/internal/util/strings"
)

func newUploadCmd() *cobra.Command {
	var folderURL string
	var createVersion bool
	var versionLabel string
	var versionComment string
	var replace bool

	cmd := &cobra.Command{
		Use:   "upload <file-or-glob> [more...]",
		Short: "Upload one or more local files to a content-repository folder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if folderURL == "" {
				return fmt.Errorf("upload: --folder-url is required")
			}

			paths, err := expandGlobPatterns(args)
			if err != nil {
				return err
			}

			specs := make([]transfer.UploadFileSpec, 0, len(paths))
			var totalBytes int64
			for _, p := range paths {
				info, err := os.Stat(p)
				if err != nil {
					return fmt.Errorf("upload: %w", err)
				}
				if info.IsDir() {
					return fmt.Errorf("upload: %q is a directory, not a file", p)
				}
				totalBytes += info.Size()
				specs = append(specs, transfer.UploadFileSpec{
					FileName:       filepath.Base(p),
					FileSize:       info.Size(),
					FilePath:       p,
					CreateVersion:  createVersion,
					VersionLabel:   versionLabel,
					VersionComment: versionComment,
					Replace:        replace,
				})
			}

			sess, err := newSession(len(specs), totalBytes)
			if err != nil {
				return err
			}
			defer sess.controller.Close()

			var summary *transfer.Summary
			err = sess.runWithProgress(GetContext(), func() error {
				var runErr error
				summary, runErr = sess.controller.UploadFiles(GetContext(), transfer.UploadOptions{
					URL:         folderURL,
					UploadFiles: specs,
				})
				return runErr
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "uploaded %d %s, %d failed\n",
				summary.Succeeded, strutil.Pluralize("file", int64(summary.Succeeded)), summary.Failed)
			for _, e := range summary.Errors {
				fmt.Fprintf(os.Stderr, "  %v\n", e)
			}
			if summary.Failed > 0 {
				return fmt.Errorf("upload: %d of %d transfers failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&folderURL, "folder-url", "", "target folder URL")
	cmd.Flags().BoolVar(&createVersion, "create-version", false, "create a new repository version for each uploaded asset")
	cmd.Flags().StringVar(&versionLabel, "version-label", "", "version label to apply when --create-version is set")
	cmd.Flags().StringVar(&versionComment, "version-comment", "", "version comment to apply when --create-version is set")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the current rendition instead of versioning it")

	return cmd
}

// expandGlobPatterns expands *.zip-style patterns, deduplicating and
// resolving every match to an absolute path.
func expandGlobPatterns(patterns []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		var matches []string
		if strings.ContainsAny(pattern, "*?[]") {
			m, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			if len(m) == 0 {
				return nil, fmt.Errorf("no files match pattern: %s", pattern)
			}
			matches = m
		} else {
			matches = []string{pattern}
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, fmt.Errorf("resolve %q: %w", m, err)
			}
			if !seen[abs] {
				seen[abs] = true
				out = append(out, abs)
			}
		}
	}
	return out, nil
}
