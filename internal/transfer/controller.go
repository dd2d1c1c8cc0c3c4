// Package transfer wires the concrete pipeline stages into the public
// entry points an outer CLI or SDK consumes: UploadFiles and the
// symmetric DownloadFiles (§6.1). It owns the process-lifetime state a
// batch of transfers shares — the FileHandleCache and the
// direct-binary-upload capability cache — so repeated calls within one
// process reuse open handles and a settled capability verdict instead of
// re-deriving them per call. Each call gets its own per-asset Tracker.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/transferpipe/core/internal/aem"
	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/clouduri"
	"github.com/transferpipe/core/internal/constants"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/filehandlecache"
	"github.com/transferpipe/core/internal/retry"
	"github.com/transferpipe/core/internal/stages"
	"github.com/transferpipe/core/internal/tracker"
)

// ErrDirectBinaryUploadNotSupported is returned by UploadFiles, without
// running any per-asset transfer, when the capability probe determines
// the target folder's service lacks direct binary upload support.
var ErrDirectBinaryUploadNotSupported = errors.New("transfer: direct binary upload not supported by target")

// UploadFileSpec is one file to upload, matching §6.1's uploadFile tuple.
type UploadFileSpec struct {
	FileName string
	FileSize int64

	// Exactly one of FilePath (local source) or FileURL (remote source,
	// e.g. s3://, azblob://, http(s)://) must be set.
	FilePath string
	FileURL  string

	CreateVersion  bool
	VersionLabel   string
	VersionComment string
	Replace        bool
}

// UploadOptions matches §6.1's uploadFiles(options) shape.
type UploadOptions struct {
	URL               string // target folder URL
	UploadFiles       []UploadFileSpec
	Headers           map[string]string
	MaxConcurrent     int
	PreferredPartSize int64
	RetryPolicy       *retry.Policy
}

// DownloadFileSpec is one file to download, the symmetric counterpart of
// UploadFileSpec.
type DownloadFileSpec struct {
	FileName   string
	SourceURL  string // remote source; defaults to URL+"/"+FileName when empty
	TargetPath string // local destination
}

// DownloadOptions matches §6.1's symmetric downloadFiles(options) shape.
type DownloadOptions struct {
	URL               string // source folder URL, used when a spec omits SourceURL
	DownloadFiles     []DownloadFileSpec
	Headers           map[string]string
	MaxConcurrent     int
	PreferredPartSize int64
	RetryPolicy       *retry.Policy
}

// Summary reports how a batch of uploads or downloads concluded.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []error
}

// Controller wires FilterUnsupported through CloseFiles (§1 C1-C12) into
// UploadFiles/DownloadFiles. One Controller is meant to be shared across
// an arbitrary number of calls within a process.
type Controller struct {
	httpClient *http.Client
	aemClient  *aem.Client
	cloud      *clouduri.Resolver
	files      *filehandlecache.Cache
	bus        *events.Bus
	retryPlan  retry.Policy

	defaultMaxConcurrent     int
	defaultPreferredPartSize int64
	retryReconnectMax        int

	capability sync.Map // folder URL -> bool
}

// NewController builds a Controller. httpClient is the data-plane client
// (§10 CreateOptimizedClient); aemClient is the control-plane client
// (§11 C15 AemClient); bus is the event bus every stage, and any
// progress UI, subscribes to.
func NewController(httpClient *http.Client, aemClient *aem.Client, cloud *clouduri.Resolver, bus *events.Bus, retryPlan retry.Policy, maxConcurrent int, preferredPartSize int64, retryReconnectMax int) *Controller {
	return &Controller{
		httpClient:               httpClient,
		aemClient:                aemClient,
		cloud:                    cloud,
		files:                    filehandlecache.New(),
		bus:                      bus,
		retryPlan:                retryPlan,
		defaultMaxConcurrent:     maxConcurrent,
		defaultPreferredPartSize: preferredPartSize,
		retryReconnectMax:        retryReconnectMax,
	}
}

// Close releases the Controller's shared resources, closing any file
// handle still held open (e.g. by a transfer that errored mid-part).
func (c *Controller) Close() error {
	return c.files.CloseAll()
}

func (c *Controller) buildDeps(maxConcurrent int, preferredPartSize int64) (*stages.Deps, int) {
	if maxConcurrent < 1 {
		maxConcurrent = c.defaultMaxConcurrent
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if preferredPartSize <= 0 {
		preferredPartSize = c.defaultPreferredPartSize
	}
	return &stages.Deps{
		Aem:               c.aemClient,
		Cloud:             c.cloud,
		Files:             c.files,
		Tracker:           tracker.New(),
		RetryPlan:         c.retryPlan,
		Bus:               c.bus,
		PreferredPartSize: preferredPartSize,
		RetryReconnectMax: c.retryReconnectMax,
	}, maxConcurrent
}

// UploadFiles uploads every spec in opts.UploadFiles to opts.URL via the
// direct-binary-upload pipeline: FilterUnsupported, GetAssetMetadata,
// AemInitiateUpload, CreateTransferParts, Transfer, JoinTransferParts,
// AemCompleteUpload, CloseFiles. Before running it, a one-asset dry-run
// probes the folder's direct-binary-upload capability (§12); a cached or
// fresh NotSupported verdict short-circuits the whole batch.
func (c *Controller) UploadFiles(ctx context.Context, opts UploadOptions) (*Summary, error) {
	if len(opts.UploadFiles) == 0 {
		return &Summary{}, nil
	}
	if err := c.probeCapability(ctx, opts.URL); err != nil {
		return nil, err
	}

	assets, err := buildUploadAssets(opts)
	if err != nil {
		return nil, err
	}

	deps, maxConcurrent := c.buildDeps(opts.MaxConcurrent, opts.PreferredPartSize)
	if opts.RetryPolicy != nil {
		deps.RetryPlan = *opts.RetryPolicy
	}

	stop := collectErrors(c.bus)

	in := seedChannel(assets)
	out := stages.CloseFiles(deps.Files)(ctx,
		stages.AemCompleteUpload(c.aemClient, maxConcurrent)(ctx,
			stages.JoinTransferParts(deps.Tracker)(ctx,
				stages.Transfer(c.httpClient, deps, maxConcurrent)(ctx,
					stages.CreateTransferParts(deps.PreferredPartSize)(ctx,
						stages.AemInitiateUpload(c.aemClient, maxConcurrent)(ctx,
							stages.GetAssetMetadata(c.httpClient, deps)(ctx,
								stages.FilterUnsupported(ctx, in, c.bus),
								c.bus),
							c.bus),
						c.bus),
					c.bus),
				c.bus),
			c.bus),
		c.bus)

	succeeded := 0
	for range out {
		succeeded++
	}

	return &Summary{
		Total:     len(assets),
		Succeeded: succeeded,
		Failed:    len(assets) - succeeded,
		Errors:    stop(),
	}, nil
}

// DownloadFiles downloads every spec in opts.DownloadFiles from its
// source into TargetPath via the symmetric download pipeline (§12):
// FilterUnsupported, GetAssetMetadata, CheckDiskSpace, CreateTransferParts,
// Transfer, JoinTransferParts, CloseFiles — no initiate/complete, since
// the source is a plain ranged-GET endpoint (optionally s3:///azblob://).
func (c *Controller) DownloadFiles(ctx context.Context, opts DownloadOptions) (*Summary, error) {
	if len(opts.DownloadFiles) == 0 {
		return &Summary{}, nil
	}

	assets, err := buildDownloadAssets(opts)
	if err != nil {
		return nil, err
	}

	deps, maxConcurrent := c.buildDeps(opts.MaxConcurrent, opts.PreferredPartSize)
	if opts.RetryPolicy != nil {
		deps.RetryPlan = *opts.RetryPolicy
	}

	stop := collectErrors(c.bus)

	in := seedChannel(assets)
	out := stages.CloseFiles(deps.Files)(ctx,
		stages.JoinTransferParts(deps.Tracker)(ctx,
			stages.Transfer(c.httpClient, deps, maxConcurrent)(ctx,
				stages.CreateTransferParts(deps.PreferredPartSize)(ctx,
					stages.CheckDiskSpace(constants.DiskSpaceSafetyMargin)(ctx,
						stages.GetAssetMetadata(c.httpClient, deps)(ctx,
							stages.FilterUnsupported(ctx, in, c.bus),
							c.bus),
						c.bus),
					c.bus),
				c.bus),
			c.bus),
		c.bus)

	succeeded := 0
	for range out {
		succeeded++
	}

	return &Summary{
		Total:     len(assets),
		Succeeded: succeeded,
		Failed:    len(assets) - succeeded,
		Errors:    stop(),
	}, nil
}

// capabilityProbeFileName is a throwaway name sent to InitiateUpload when
// probing a folder's direct-binary-upload capability, so the probe never
// consumes (and discards) a real upload session/token for one of the
// caller's actual files.
const capabilityProbeFileName = ".transferpipe-capability-probe"

// probeCapability dry-runs AemInitiateUpload against folderURL the first
// time that folder URL is seen, caching the verdict per folder URL for
// the Controller's lifetime. Any error other than
// aem.ErrNotSupported defaults the capability to true, per §7's "other
// errors default to true so downstream layers can attempt and report
// real failures".
func (c *Controller) probeCapability(ctx context.Context, folderURL string) error {
	host := folderURL
	if cached, ok := c.capability.Load(host); ok {
		if !cached.(bool) {
			return ErrDirectBinaryUploadNotSupported
		}
		return nil
	}

	_, err := c.aemClient.InitiateUpload(ctx, folderURL, []string{capabilityProbeFileName}, []int64{1})
	if errors.Is(err, aem.ErrNotSupported) {
		c.capability.Store(host, false)
		return ErrDirectBinaryUploadNotSupported
	}
	c.capability.Store(host, true)
	return nil
}

func buildUploadAssets(opts UploadOptions) ([]*asset.TransferAsset, error) {
	folder := strings.TrimSuffix(opts.URL, "/")
	assets := make([]*asset.TransferAsset, 0, len(opts.UploadFiles))
	for _, spec := range opts.UploadFiles {
		var source asset.Asset
		switch {
		case spec.FilePath != "":
			abs, err := filepath.Abs(spec.FilePath)
			if err != nil {
				return nil, fmt.Errorf("transfer: resolve %q: %w", spec.FilePath, err)
			}
			source = asset.Asset{URI: "file://" + filepath.ToSlash(abs), Headers: opts.Headers}
		case spec.FileURL != "":
			source = asset.Asset{URI: spec.FileURL, Headers: opts.Headers}
		default:
			return nil, fmt.Errorf("transfer: %q has neither FilePath nor FileURL", spec.FileName)
		}

		target := asset.Asset{URI: folder + "/" + spec.FileName, Headers: opts.Headers}

		a := &asset.TransferAsset{Source: source, Target: target}
		if spec.FileSize > 0 {
			a.Metadata = &asset.Metadata{Filename: spec.FileName, ContentLength: spec.FileSize}
		}
		if spec.CreateVersion || spec.VersionLabel != "" || spec.VersionComment != "" || spec.Replace {
			a.Versioning = &asset.VersionOptions{
				CreateVersion:  spec.CreateVersion,
				VersionLabel:   spec.VersionLabel,
				VersionComment: spec.VersionComment,
				Replace:        spec.Replace,
			}
		}
		assets = append(assets, a)
	}
	return assets, nil
}

func buildDownloadAssets(opts DownloadOptions) ([]*asset.TransferAsset, error) {
	folder := strings.TrimSuffix(opts.URL, "/")
	assets := make([]*asset.TransferAsset, 0, len(opts.DownloadFiles))
	for _, spec := range opts.DownloadFiles {
		if spec.TargetPath == "" {
			return nil, fmt.Errorf("transfer: %q has no TargetPath", spec.FileName)
		}
		sourceURL := spec.SourceURL
		if sourceURL == "" {
			if folder == "" {
				return nil, fmt.Errorf("transfer: %q has neither SourceURL nor a folder URL", spec.FileName)
			}
			sourceURL = folder + "/" + spec.FileName
		}
		abs, err := filepath.Abs(spec.TargetPath)
		if err != nil {
			return nil, fmt.Errorf("transfer: resolve %q: %w", spec.TargetPath, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("transfer: create destination directory for %q: %w", spec.TargetPath, err)
		}

		assets = append(assets, &asset.TransferAsset{
			Source: asset.Asset{URI: sourceURL, Headers: opts.Headers},
			Target: asset.Asset{URI: "file://" + filepath.ToSlash(abs)},
		})
	}
	return assets, nil
}

func seedChannel(assets []*asset.TransferAsset) <-chan *asset.TransferAsset {
	in := make(chan *asset.TransferAsset, len(assets))
	for _, a := range assets {
		in <- a
	}
	close(in)
	return in
}

// collectErrors subscribes to bus's Error events and returns a stop
// function that, once called, drains any already-published events
// without blocking and returns everything collected. Subscribing before
// the pipeline starts (rather than racing to subscribe after) is
// required: Bus.Publish only fans out to subscribers registered at
// publish time.
func collectErrors(bus *events.Bus) func() []error {
	ch := bus.Subscribe(events.KindError)
	var mu sync.Mutex
	var errs []error
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-ch:
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %s: %w", ev.Stage, ev.AssetURI, ev.Err))
				mu.Unlock()
			case <-quit:
				for {
					select {
					case ev := <-ch:
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s: %s: %w", ev.Stage, ev.AssetURI, ev.Err))
						mu.Unlock()
					default:
						return
					}
				}
			}
		}
	}()
	return func() []error {
		close(quit)
		<-done
		bus.Unsubscribe(events.KindError, ch)
		mu.Lock()
		defer mu.Unlock()
		return errs
	}
}
