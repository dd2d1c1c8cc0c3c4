package stages

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/filehandlecache"
	"github.com/transferpipe/core/internal/interval"
	"github.com/transferpipe/core/internal/pipeline"
	"github.com/transferpipe/core/internal/rangefilter"
	"github.com/transferpipe/core/internal/retry"
	"github.com/transferpipe/core/internal/streamreader"
	"github.com/transferpipe/core/internal/util/buffers"
)

// Transfer reads a part's byte range from its asset's source and PUTs it
// to targetURLs[0], retrying per deps.RetryPlan (upload), or ranged-GETs
// from the source and writes to the local target file, reconnecting up to
// deps.RetryReconnectMax times on a failed or broken stream (download). Parts
// run with up to maxConcurrent in flight and complete in arbitrary order;
// JoinTransferParts tolerates that via DisjointRanges.
func Transfer(httpClient *http.Client, deps *Deps, maxConcurrent int) pipeline.Stage[*asset.TransferPart] {
	fn := func(ctx context.Context, batch []*asset.TransferPart, bus *events.Bus) []*asset.TransferPart {
		p := batch[0]
		direction := "download"
		upload := isUploadTarget(p.Asset.Target)
		if upload {
			direction = "upload"
		}
		if deps.Tracker.IsFirst(p.Asset.ID(), p.Asset.Metadata.ContentLength) {
			bus.Publish(events.Event{
				Kind: events.KindTransferStart, Stage: "Transfer", AssetURI: p.Asset.Source.URI,
				FileName: p.Asset.Target.Filename(), FileSize: p.Asset.Metadata.ContentLength,
				Props: map[string]any{"direction": direction},
			})
		}

		var err error
		if upload {
			err = transferUpload(ctx, httpClient, deps, p, bus)
		} else {
			err = transferDownload(ctx, httpClient, deps, p, bus)
		}
		if err != nil {
			bus.NotifyError("Transfer", p.Asset.Source.URI, err)
			return nil
		}

		total := deps.Tracker.Record(p.Asset.ID(), p.Asset.Metadata.ContentLength, p.ContentRange)
		bus.Publish(events.Event{
			Kind: events.KindTransferProgress, Stage: "Transfer", AssetURI: p.Asset.Source.URI,
			FileSize: p.Asset.Metadata.ContentLength, Transferred: total,
		})
		return []*asset.TransferPart{p}
	}

	return func(ctx context.Context, in <-chan *asset.TransferPart, bus *events.Bus) <-chan *asset.TransferPart {
		return pipeline.ConcurrentMap(ctx, in, bus, pipeline.Options[*asset.TransferPart]{
			MaxBatchLength: 1,
			MaxConcurrent:  maxConcurrent,
			Ordered:        false,
		}, fn)
	}
}

func isUploadTarget(target asset.Asset) bool {
	switch target.Scheme() {
	case "http", "https", "s3", "azblob":
		return true
	default:
		return false
	}
}

func transferUpload(ctx context.Context, httpClient *http.Client, deps *Deps, p *asset.TransferPart, bus *events.Bus) error {
	data, err := readSourceRange(ctx, deps, p)
	if err != nil {
		return err
	}
	plan := deps.RetryPlan
	plan.OnRetry = func(attempt int, delay time.Duration, err error) {
		bus.Notify(events.KindRetry, "Transfer", p.Asset.Source.URI, map[string]any{"attempt": attempt})
	}
	return retry.Do(ctx, plan, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.TargetURLs[0], bytes.NewReader(data))
		if err != nil {
			return err
		}
		for k, v := range p.Headers {
			req.Header.Set(k, v)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return &retry.StatusError{Status: resp.StatusCode, URL: p.TargetURLs[0]}
		}
		return nil
	})
}

func readSourceRange(ctx context.Context, deps *Deps, p *asset.TransferPart) ([]byte, error) {
	switch p.Asset.Source.Scheme() {
	case "file":
		path := strings.TrimPrefix(p.Asset.Source.URI, "file://")
		f, err := deps.Files.OpenOrGet(path, filehandlecache.ModeRead, 0)
		if err != nil {
			return nil, err
		}
		length := p.ContentRange.Length()

		var buf []byte
		pooled := buffers.GetPartBuffer()
		if int64(len(*pooled)) == length {
			buf = *pooled
		} else {
			buf = make([]byte, length)
		}
		defer buffers.PutPartBuffer(pooled)

		n, err := f.ReadAt(buf, p.ContentRange.Start)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("Transfer: read %s %s: %w", path, p.ContentRange, err)
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	default:
		return nil, fmt.Errorf("Transfer: unsupported upload source scheme %q", p.Asset.Source.Scheme())
	}
}

func transferDownload(ctx context.Context, httpClient *http.Client, deps *Deps, p *asset.TransferPart, bus *events.Bus) error {
	path := strings.TrimPrefix(p.Asset.Target.URI, "file://")
	f, err := deps.Files.OpenOrGet(path, filehandlecache.ModeWrite, p.Asset.Metadata.ContentLength)
	if err != nil {
		return err
	}

	var lastErr error
	remaining := p.ContentRange
	for attempt := 0; attempt <= deps.RetryReconnectMax; attempt++ {
		if attempt > 0 {
			bus.Notify(events.KindRetry, "Transfer", p.Asset.Source.URI, map[string]any{"attempt": attempt})
		}
		body, streamOffset, err := openRangedBody(ctx, httpClient, deps, p.Asset.Source, remaining)
		if err != nil {
			lastErr = err
			continue
		}

		reader := streamreader.New(ctx, body, int(deps.PreferredPartSize), 4)
		filter := rangefilter.New(remaining, streamOffset)
		written := int64(0)
		var streamErr error
		for {
			item, ok := reader.Next(ctx)
			if !ok {
				break
			}
			if item.Err != nil {
				streamErr = item.Err
				break
			}
			clipped := filter.Push(item.Data)
			if len(clipped) == 0 {
				continue
			}
			if _, err := f.WriteAt(clipped, remaining.Start+written); err != nil {
				deps.Files.Invalidate(path)
				return fmt.Errorf("Transfer: write %s: %w", path, err)
			}
			written += int64(len(clipped))
		}
		reader.Close()

		if streamErr == nil {
			return nil
		}
		lastErr = streamErr
		remaining.Start += written
		if remaining.Empty() {
			return nil
		}
	}
	return fmt.Errorf("Transfer: ranged read %s exhausted reconnect attempts: %w", p.Asset.Source.URI, lastErr)
}

// openRangedBody opens a reader over source's bytes in r and reports the
// absolute offset of the first byte the returned body will yield. http(s)
// sources get a GET with a Range header, accepting either a 206 partial
// response (body starts at the server's reported Content-Range start, or
// r.Start if the header is absent/unparseable) or a 200 whole-body
// response (some servers ignore Range for small files, so the body
// starts at absolute offset 0); cloud sources go through the resolver's
// ranged read, which always returns exactly [r.Start, r.End).
func openRangedBody(ctx context.Context, httpClient *http.Client, deps *Deps, source asset.Asset, r interval.Interval) (io.ReadCloser, int64, error) {
	switch source.Scheme() {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URI, nil)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1))
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, 0, err
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			return nil, 0, &retry.StatusError{Status: resp.StatusCode, URL: source.URI}
		}
		if resp.StatusCode == http.StatusOK {
			return resp.Body, 0, nil
		}
		offset := r.Start
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok {
			offset = start
		}
		return resp.Body, offset, nil
	case "s3", "azblob":
		body, err := deps.Cloud.GetRange(ctx, source.URI, r.Start, r.End)
		return body, r.Start, err
	default:
		return nil, 0, fmt.Errorf("Transfer: unsupported download source scheme %q", source.Scheme())
	}
}

// contentRangeStart parses the start offset out of a "bytes start-end/total"
// (or "bytes start-end/*") Content-Range header.
func contentRangeStart(header string) (int64, bool) {
	dash := strings.Index(header, "-")
	spaceOrDash := strings.IndexByte(header, ' ')
	if dash < 0 || spaceOrDash < 0 || spaceOrDash >= dash {
		return 0, false
	}
	var start int64
	if _, err := fmt.Sscanf(header[spaceOrDash+1:dash], "%d", &start); err != nil {
		return 0, false
	}
	return start, true
}
