package stages

import (
	"context"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/tracker"
)

// JoinTransferParts coalesces the independently-completing TransferPart
// stream back into TransferAssets: Transfer already records each part
// with the tracker, so this stage only checks whether an asset's
// accumulated ranges now cover its full length and, the first time that
// becomes true, emits the asset and publishes KindTransferComplete. Later
// parts of an asset already emitted are silently dropped: parts finish out
// of order, so the tracker can already report an asset complete when an
// earlier-finished part arrives, and its remaining parts follow after it.
func JoinTransferParts(t *tracker.Tracker) func(context.Context, <-chan *asset.TransferPart, *events.Bus) <-chan *asset.TransferAsset {
	return func(ctx context.Context, in <-chan *asset.TransferPart, bus *events.Bus) <-chan *asset.TransferAsset {
		out := make(chan *asset.TransferAsset)
		go func() {
			defer close(out)
			emitted := make(map[string]bool)
			for p := range in {
				id := p.Asset.ID()
				if emitted[id] || !t.Complete(id) {
					continue
				}
				emitted[id] = true
				size := p.Asset.Metadata.ContentLength
				t.Forget(id)
				bus.Publish(events.Event{
					Kind: events.KindTransferComplete, Stage: "JoinTransferParts", AssetURI: p.Asset.Source.URI,
					FileName: p.Asset.Target.Filename(), FileSize: size, Transferred: size,
				})
				select {
				case out <- p.Asset:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}
