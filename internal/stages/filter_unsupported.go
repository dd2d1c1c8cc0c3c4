package stages

import (
	"context"
	"fmt"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
)

// ErrUnsupportedFileUpload is reported for assets with no content or an
// illegal target filename.
type ErrUnsupportedFileUpload struct {
	AssetURI string
	Reason   string
}

func (e *ErrUnsupportedFileUpload) Error() string {
	return fmt.Sprintf("unsupported file upload for %s: %s", e.AssetURI, e.Reason)
}

// FilterUnsupported drops assets with an empty content length or a
// target filename containing a character illegal in a repository path
// segment, publishing KindError for each and letting the rest continue.
func FilterUnsupported(ctx context.Context, in <-chan *asset.TransferAsset, bus *events.Bus) <-chan *asset.TransferAsset {
	out := make(chan *asset.TransferAsset)
	go func() {
		defer close(out)
		for a := range in {
			if reason, bad := unsupported(a); bad {
				bus.NotifyError("FilterUnsupported", a.Source.URI, &ErrUnsupportedFileUpload{
					AssetURI: a.Source.URI,
					Reason:   reason,
				})
				continue
			}
			select {
			case out <- a:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func unsupported(a *asset.TransferAsset) (reason string, bad bool) {
	if a.Metadata != nil && a.Metadata.ContentLength < 1 {
		return "content length < 1", true
	}
	if unsupportedFilename.MatchString(a.Target.Filename()) {
		return "filename contains an illegal character", true
	}
	return "", false
}
