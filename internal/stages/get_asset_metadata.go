package stages

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/clouduri"
	"github.com/transferpipe/core/internal/events"
)

// GetAssetMetadata populates Metadata/Version/AcceptRanges on each asset
// whose source the caller hasn't already fully described. file:// sources
// are stat'd locally; http(s) sources are HEAD'd (falling back to a
// Range: bytes=0-0 GET for hosts that reject HEAD); s3/azblob sources go
// through the CloudURIResolver's HEAD-equivalent.
func GetAssetMetadata(httpClient *http.Client, deps *Deps) func(context.Context, <-chan *asset.TransferAsset, *events.Bus) <-chan *asset.TransferAsset {
	return func(ctx context.Context, in <-chan *asset.TransferAsset, bus *events.Bus) <-chan *asset.TransferAsset {
		out := make(chan *asset.TransferAsset)
		go func() {
			defer close(out)
			for a := range in {
				bus.Notify(events.KindGetAssetMetadata, "GetAssetMetadata", a.Source.URI, nil)
				if a.Metadata == nil {
					if err := populateMetadata(ctx, httpClient, deps, a); err != nil {
						bus.NotifyError("GetAssetMetadata", a.Source.URI, err)
						continue
					}
				}
				// FilterUnsupported's empty-content check runs before a
				// download/remote asset's Metadata is populated, so it
				// can't catch this case; re-check here now that it's known.
				if a.Metadata.ContentLength < 1 {
					bus.NotifyError("GetAssetMetadata", a.Source.URI, &ErrUnsupportedFileUpload{
						AssetURI: a.Source.URI,
						Reason:   "content length < 1",
					})
					continue
				}
				bus.Notify(events.KindAfterGetAssetMetadata, "GetAssetMetadata", a.Source.URI, nil)
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

func populateMetadata(ctx context.Context, httpClient *http.Client, deps *Deps, a *asset.TransferAsset) error {
	switch a.Source.Scheme() {
	case "file":
		return populateFileMetadata(a)
	case "http", "https":
		return populateHTTPMetadata(ctx, httpClient, a)
	case "s3", "azblob":
		return populateCloudMetadata(ctx, deps.Cloud, a)
	default:
		return fmt.Errorf("GetAssetMetadata: unsupported source scheme %q", a.Source.Scheme())
	}
}

func populateFileMetadata(a *asset.TransferAsset) error {
	path := strings.TrimPrefix(a.Source.URI, "file://")
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("GetAssetMetadata: stat %s: %w", path, err)
	}
	a.Metadata = &asset.Metadata{
		Filename:      a.Source.Filename(),
		ContentType:   mimeTypeFor(a.Source.Filename()),
		ContentLength: info.Size(),
	}
	a.Version = &asset.Version{LastModified: info.ModTime()}
	a.AcceptRanges = true
	return nil
}

func populateHTTPMetadata(ctx context.Context, httpClient *http.Client, a *asset.TransferAsset) error {
	resp, err := doHead(ctx, httpClient, a.Source.URI)
	if err == nil && resp.StatusCode >= 400 {
		resp.Body.Close()
		err = fmt.Errorf("head returned status %d", resp.StatusCode)
	}
	if err != nil {
		resp, err = doRangeProbe(ctx, httpClient, a.Source.URI)
	}
	if err != nil {
		return fmt.Errorf("GetAssetMetadata: probe %s: %w", a.Source.URI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GetAssetMetadata: %s returned status %d", a.Source.URI, resp.StatusCode)
	}

	length := resp.ContentLength
	if length < 0 {
		length = contentRangeTotal(resp.Header.Get("Content-Range"))
	}
	a.Metadata = &asset.Metadata{
		Filename:      a.Source.Filename(),
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: length,
	}
	a.AcceptRanges = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	return nil
}

func doHead(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func doRangeProbe(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-0")
	return client.Do(req)
}

func contentRangeTotal(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return -1
	}
	var total int64
	_, err := fmt.Sscanf(header[idx+1:], "%d", &total)
	if err != nil {
		return -1
	}
	return total
}

func populateCloudMetadata(ctx context.Context, resolver *clouduri.Resolver, a *asset.TransferAsset) error {
	info, err := resolver.Head(ctx, a.Source.URI)
	if err != nil {
		return fmt.Errorf("GetAssetMetadata: %w", err)
	}
	a.Metadata = &asset.Metadata{
		Filename:      a.Source.Filename(),
		ContentType:   info.ContentType,
		ContentLength: info.ContentLength,
	}
	a.Version = &asset.Version{LastModified: info.LastModified, ETag: info.ETag}
	a.AcceptRanges = true
	return nil
}
