package stages

import (
	"context"
	"strings"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/filehandlecache"
)

// CloseFiles closes the local file handle (source for uploads, target for
// downloads) held open across an asset's parts, then lets the asset
// continue downstream. Closing is tolerant of a path never having been
// opened (e.g. an upload whose source is itself remote).
func CloseFiles(files *filehandlecache.Cache) func(context.Context, <-chan *asset.TransferAsset, *events.Bus) <-chan *asset.TransferAsset {
	return func(ctx context.Context, in <-chan *asset.TransferAsset, bus *events.Bus) <-chan *asset.TransferAsset {
		out := make(chan *asset.TransferAsset)
		go func() {
			defer close(out)
			for a := range in {
				for _, endpoint := range []asset.Asset{a.Source, a.Target} {
					if endpoint.Scheme() != "file" {
						continue
					}
					path := strings.TrimPrefix(endpoint.URI, "file://")
					if err := files.Close(path); err != nil {
						bus.NotifyError("CloseFiles", a.Source.URI, err)
					}
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
}
