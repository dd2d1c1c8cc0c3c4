// Package stages implements the concrete pipeline stages that drive a
// TransferAsset from ingress through metadata, initiate, split, transfer,
// join, complete, and close.
package stages

import (
	"mime"
	"path/filepath"
	"regexp"

	"github.com/transferpipe/core/internal/aem"
	"github.com/transferpipe/core/internal/clouduri"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/filehandlecache"
	"github.com/transferpipe/core/internal/retry"
	"github.com/transferpipe/core/internal/tracker"
)

// unsupportedFilename matches characters illegal in a repository path
// segment; assets whose target filename matches are rejected outright.
var unsupportedFilename = regexp.MustCompile(`[\[\]{}&:\\?#|*%]`)

// Deps bundles the collaborators every stage needs: the control-plane
// client, the cloud URI resolver for s3/azblob sources, the file handle
// cache shared across all in-flight transfers, the per-asset progress
// tracker, the retry policy applied to data-plane operations, and the
// event bus stages publish to.
type Deps struct {
	Aem       *aem.Client
	Cloud     *clouduri.Resolver
	Files     *filehandlecache.Cache
	Tracker   *tracker.Tracker
	RetryPlan retry.Policy
	Bus       *events.Bus

	PreferredPartSize int64
	RetryReconnectMax int
}

func mimeTypeFor(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
