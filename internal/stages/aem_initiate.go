package stages

import (
	"context"

	"github.com/transferpipe/core/internal/aem"
	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/constants"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/pipeline"
)

// AemInitiateUpload batches assets sharing a target folder (up to
// constants.AemInitiateBatchSize per batch), POSTs a single
// initiateUpload.json per batch, and attaches the resulting
// MultipartTarget to each asset. Assets whose initiate response indicates
// the folder lacks direct-binary-upload support are withdrawn with
// aem.ErrNotSupported.
func AemInitiateUpload(client *aem.Client, maxConcurrent int) pipeline.Stage[*asset.TransferAsset] {
	return func(ctx context.Context, in <-chan *asset.TransferAsset, bus *events.Bus) <-chan *asset.TransferAsset {
		fn := func(ctx context.Context, batch []*asset.TransferAsset, bus *events.Bus) []*asset.TransferAsset {
			return initiateBatch(ctx, client, batch, bus)
		}
		canExtend := func(batch []*asset.TransferAsset, item *asset.TransferAsset) bool {
			if len(batch) == 0 {
				return true
			}
			return batch[0].Target.Folder() == item.Target.Folder()
		}
		return pipeline.ConcurrentMap(ctx, in, bus, pipeline.Options[*asset.TransferAsset]{
			MaxBatchLength: constants.AemInitiateBatchSize,
			MaxConcurrent:  maxConcurrent,
			Ordered:        false,
			CanExtendBatch: canExtend,
		}, fn)
	}
}

func initiateBatch(ctx context.Context, client *aem.Client, batch []*asset.TransferAsset, bus *events.Bus) []*asset.TransferAsset {
	if len(batch) == 0 {
		return nil
	}
	folderURL := batch[0].Target.Folder()

	fileNames := make([]string, len(batch))
	fileSizes := make([]int64, len(batch))
	for i, a := range batch {
		bus.Notify(events.KindAemInitiateUpload, "AemInitiateUpload", a.Source.URI, nil)
		fileNames[i] = a.Target.Filename()
		if a.Metadata != nil {
			fileSizes[i] = a.Metadata.ContentLength
		}
	}

	resp, err := client.InitiateUpload(ctx, folderURL, fileNames, fileSizes)
	if err != nil {
		for _, a := range batch {
			bus.NotifyError("AemInitiateUpload", a.Source.URI, err)
		}
		return nil
	}

	byName := make(map[string]aem.InitiateFile, len(resp.Files))
	for _, f := range resp.Files {
		byName[f.FileName] = f
	}

	var out []*asset.TransferAsset
	for _, a := range batch {
		f, ok := byName[a.Target.Filename()]
		if !ok {
			bus.NotifyError("AemInitiateUpload", a.Source.URI, aem.ErrNotSupported)
			continue
		}
		mimeType := f.MimeType
		if mimeType == "" {
			if a.Metadata != nil && a.Metadata.ContentType != "" {
				mimeType = a.Metadata.ContentType
			} else {
				mimeType = "application/octet-stream"
			}
		}
		if a.Metadata != nil {
			a.Metadata.ContentType = mimeType
		}
		a.MultipartTarget = &asset.MultipartTarget{
			UploadURLs:  f.UploadURIs,
			MinPartSize: f.MinPartSize,
			MaxPartSize: f.MaxPartSize,
			CompleteURL: resp.CompleteURI,
			UploadToken: f.UploadToken,
		}
		bus.Notify(events.KindAfterAemInitiateUpload, "AemInitiateUpload", a.Source.URI, nil)
		out = append(out, a)
	}
	return out
}
