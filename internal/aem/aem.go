// Package aem implements the control-plane client for the direct binary
// upload protocol: initiateUpload.json and the per-asset completeUpload
// callback, both small idempotent form-POST calls wrapped in a retrying
// HTTP client.
package aem

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/transferpipe/core/internal/config"
)

// retryLogger routes go-retryablehttp's internal retry chatter through
// the standard logger: errors are always logged except context
// cancellations, warnings only when TRANSFERPIPE_DEBUG is set, and info
// and debug messages are dropped.
type retryLogger struct{}

func (l *retryLogger) Error(msg string, kv ...interface{}) {
	if strings.Contains(fmt.Sprint(kv), "context canceled") {
		return
	}
	log.Printf("[retry error] %s %v", msg, kv)
}
func (l *retryLogger) Info(msg string, kv ...interface{})  {}
func (l *retryLogger) Debug(msg string, kv ...interface{}) {}
func (l *retryLogger) Warn(msg string, kv ...interface{}) {
	if os.Getenv("TRANSFERPIPE_DEBUG") != "" {
		log.Printf("[retry warn] %s %v", msg, kv)
	}
}

// Client is the initiate/complete control-plane HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Client wrapping cfg's HTTP transport with
// go-retryablehttp, matching the control-plane's need for aggressive
// retry on a small, cheap, idempotent call.
func NewClient(cfg *config.Config, transport *http.Client) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = transport
	retryClient.RetryMax = 10
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = &retryLogger{}

	return &Client{
		httpClient: retryClient.StandardClient(),
		baseURL:    strings.TrimSuffix(cfg.ServiceBaseURL, "/"),
	}
}

// InitiateFile is one per-asset entry of an InitiateResponse.
type InitiateFile struct {
	FileName    string
	MimeType    string
	UploadToken string
	UploadURIs  []string
	MinPartSize int64
	MaxPartSize int64
}

// InitiateResponse is the parsed response of initiateUpload.json.
type InitiateResponse struct {
	CompleteURI string
	Files       []InitiateFile
}

// ErrNotSupported indicates the folder/service does not support direct
// binary upload — the initiate response lacked a usable files[] shape.
// This is terminal for the direct-binary-upload flow, used by the
// capability probe to switch transfer strategies.
var ErrNotSupported = fmt.Errorf("aem: direct binary upload not supported")

// InitiateUpload POSTs {folderURL}.initiateUpload.json with a repeated
// fileName/fileSize field per asset, in order, and parses the response.
func (c *Client) InitiateUpload(ctx context.Context, folderURL string, fileNames []string, fileSizes []int64) (*InitiateResponse, error) {
	if len(fileNames) != len(fileSizes) {
		return nil, fmt.Errorf("aem: fileNames and fileSizes length mismatch")
	}

	form := url.Values{}
	for i := range fileNames {
		form.Add("fileName", fileNames[i])
		form.Add("fileSize", strconv.FormatInt(fileSizes[i], 10))
	}

	endpoint := strings.TrimSuffix(folderURL, "/") + ".initiateUpload.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("aem: build initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aem: initiate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &statusError{status: resp.StatusCode, url: endpoint}
	}

	parsed, err := parseInitiateResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(parsed.Files) == 0 {
		return nil, ErrNotSupported
	}
	for _, f := range parsed.Files {
		if len(f.UploadURIs) == 0 || f.MinPartSize <= 0 || f.MaxPartSize < f.MinPartSize {
			return nil, fmt.Errorf("aem: invalid initiate file record for %q: %w", f.FileName, ErrNotSupported)
		}
	}

	parsed.CompleteURI = resolveAgainst(folderURL, parsed.CompleteURI)
	return parsed, nil
}

// VersionOptions carries the optional repository-versioning fields a
// caller may attach to a completeUpload call (§6.2's "plus version
// fields when provided").
type VersionOptions struct {
	CreateVersion  bool
	VersionLabel   string
	VersionComment string
	Replace        bool
}

// CompleteUpload POSTs a form to completeURL confirming the asset's
// identity, size, mime type, and upload token. versioning is nil when the
// caller didn't request version-on-upload semantics.
func (c *Client) CompleteUpload(ctx context.Context, completeURL, fileName string, fileSize int64, mimeType, uploadToken string, versioning *VersionOptions) error {
	form := url.Values{}
	form.Set("fileName", fileName)
	form.Set("fileSize", strconv.FormatInt(fileSize, 10))
	form.Set("mimeType", mimeType)
	form.Set("uploadToken", uploadToken)
	if versioning != nil {
		if versioning.CreateVersion {
			form.Set("createVersion", "true")
		}
		if versioning.VersionLabel != "" {
			form.Set("versionLabel", versioning.VersionLabel)
		}
		if versioning.VersionComment != "" {
			form.Set("versionComment", versioning.VersionComment)
		}
		if versioning.Replace {
			form.Set("replace", "true")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("aem: build complete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("aem: complete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{status: resp.StatusCode, url: completeURL}
	}
	return nil
}

func resolveAgainst(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("aem: %s returned status %d", e.url, e.status)
}

// StatusCode implements retry.HTTPStatusError so RetryPolicy can classify
// it as a 5xx-retryable or 4xx-terminal response error.
func (e *statusError) StatusCode() int { return e.status }
