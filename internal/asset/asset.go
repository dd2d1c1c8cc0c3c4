// Package asset defines the data model shared across pipeline stages: the
// immutable Asset endpoint, the mutable TransferAsset that flows through
// the pipeline, and the TransferPart records a split produces.
package asset

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/transferpipe/core/internal/interval"
)

// Asset is a source or target endpoint: a URI plus optional request
// headers. Immutable once constructed.
type Asset struct {
	URI     string
	Headers map[string]string
}

// Scheme returns the URI's scheme (file, http, https, s3, azblob), lowercased.
func (a Asset) Scheme() string {
	u, err := url.Parse(a.URI)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Folder returns the directory portion of the URI's path.
func (a Asset) Folder() string {
	u, err := url.Parse(a.URI)
	if err != nil {
		return ""
	}
	return path.Dir(u.Path)
}

// Filename returns the base filename portion of the URI's path.
func (a Asset) Filename() string {
	u, err := url.Parse(a.URI)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

// Metadata is the {filename, contentType, contentLength} triple acquired
// (or supplied) before a transfer begins. Immutable once set on a
// TransferAsset.
type Metadata struct {
	Filename      string
	ContentType   string
	ContentLength int64
}

// Version is an optional precondition for ranged GETs.
type Version struct {
	LastModified time.Time
	ETag         string
}

// MultipartTarget is the set of signed upload endpoints and part-size
// bounds brokered by AemInitiateUpload.
type MultipartTarget struct {
	UploadURLs       []string
	MinPartSize      int64
	MaxPartSize      int64
	CompleteURL      string
	UploadToken      string
	MultipartHeaders map[string]string
}

// TransferAsset flows through the pipeline from ingress (source+target
// only) through metadata, initiate, split, transfer, and close. Identity
// is the (Source.URI, Target.URI) pair.
type TransferAsset struct {
	Source          Asset
	Target          Asset
	Metadata        *Metadata
	Version         *Version
	AcceptRanges    bool
	MultipartTarget *MultipartTarget

	// Versioning, when set, is forwarded to AemCompleteUpload's form body
	// as the repository-versioning fields for this asset. Nil means
	// upload without requesting a version.
	Versioning *VersionOptions
}

// VersionOptions mirrors aem.VersionOptions at the asset layer so callers
// building a TransferAsset don't need to import the aem package directly.
type VersionOptions struct {
	CreateVersion  bool
	VersionLabel   string
	VersionComment string
	Replace        bool
}

// ID returns the identity key used by TransferTracker and FileHandleCache:
// the (source, target) URI pair.
func (a *TransferAsset) ID() string {
	return a.Source.URI + "->" + a.Target.URI
}

// TransferPart is a single range of a TransferAsset produced by
// CreateTransferParts and consumed by Transfer.
type TransferPart struct {
	Asset        *TransferAsset
	TargetURLs   []string
	ContentRange interval.Interval
	Headers      map[string]string
}
