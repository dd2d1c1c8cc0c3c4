package stages

import (
	"context"

	"github.com/transferpipe/core/internal/aem"
	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/pipeline"
)

// AemCompleteUpload POSTs the control-plane completeUpload.json call for
// each fully-transferred asset. client already retries transport-level
// failures via its own retryablehttp policy (matching AemInitiateUpload),
// so this stage does not layer the data-plane RetryPlan on top. Runs with
// up to maxConcurrent assets in flight; order doesn't matter downstream.
func AemCompleteUpload(client *aem.Client, maxConcurrent int) pipeline.Stage[*asset.TransferAsset] {
	fn := func(ctx context.Context, batch []*asset.TransferAsset, bus *events.Bus) []*asset.TransferAsset {
		a := batch[0]
		bus.Notify(events.KindAemCompleteUpload, "AemCompleteUpload", a.Source.URI, nil)

		mimeType := ""
		if a.Metadata != nil {
			mimeType = a.Metadata.ContentType
		}
		var versioning *aem.VersionOptions
		if a.Versioning != nil {
			versioning = &aem.VersionOptions{
				CreateVersion:  a.Versioning.CreateVersion,
				VersionLabel:   a.Versioning.VersionLabel,
				VersionComment: a.Versioning.VersionComment,
				Replace:        a.Versioning.Replace,
			}
		}
		err := client.CompleteUpload(ctx, a.MultipartTarget.CompleteURL, a.Target.Filename(),
			a.Metadata.ContentLength, mimeType, a.MultipartTarget.UploadToken, versioning)
		if err != nil {
			bus.NotifyError("AemCompleteUpload", a.Source.URI, err)
			return nil
		}

		bus.Notify(events.KindAfterAemCompleteUpload, "AemCompleteUpload", a.Source.URI, nil)
		return []*asset.TransferAsset{a}
	}

	return func(ctx context.Context, in <-chan *asset.TransferAsset, bus *events.Bus) <-chan *asset.TransferAsset {
		return pipeline.ConcurrentMap(ctx, in, bus, pipeline.Options[*asset.TransferAsset]{
			MaxBatchLength: 1,
			MaxConcurrent:  maxConcurrent,
			Ordered:        false,
		}, fn)
	}
}
