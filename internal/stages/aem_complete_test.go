package stages

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/transferpipe/core/internal/aem"
	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/config"
	"github.com/transferpipe/core/internal/events"
)

func TestAemCompleteUploadPostsExpectedForm(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".completeUpload.json") {
			t.Errorf("path = %s, want suffix .completeUpload.json", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.ServiceBaseURL = srv.URL
	client := aem.NewClient(cfg, srv.Client())

	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: srv.URL + "/content/dam/folder/a.bin"},
		Metadata: &asset.Metadata{ContentLength: 42, ContentType: "image/png"},
		MultipartTarget: &asset.MultipartTarget{
			CompleteURL: srv.URL + "/content/dam/folder.completeUpload.json",
			UploadToken: "tok-1",
		},
	}

	stage := AemCompleteUpload(client, 2)
	bus := events.NewBus(4)
	in := make(chan *asset.TransferAsset, 1)
	in <- a
	close(in)

	out := stage(context.Background(), in, bus)
	got := <-out
	if got == nil {
		t.Fatal("expected asset to pass through")
	}
	if gotForm.Get("fileName") != "a.bin" {
		t.Errorf("fileName = %q, want a.bin", gotForm.Get("fileName"))
	}
	if gotForm.Get("uploadToken") != "tok-1" {
		t.Errorf("uploadToken = %q, want tok-1", gotForm.Get("uploadToken"))
	}
}

func TestAemCompleteUploadSurfacesError(t *testing.T) {
	// 403 is not retried by the client's transport-level retry policy
	// (which only retries 5xx/connect errors), so this fails fast.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.ServiceBaseURL = srv.URL
	client := aem.NewClient(cfg, srv.Client())

	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: srv.URL + "/content/dam/folder/a.bin"},
		Metadata: &asset.Metadata{ContentLength: 42},
		MultipartTarget: &asset.MultipartTarget{
			CompleteURL: srv.URL + "/content/dam/folder.completeUpload.json",
			UploadToken: "tok-1",
		},
	}

	stage := AemCompleteUpload(client, 2)
	bus := events.NewBus(4)
	errCh := bus.Subscribe(events.KindError)
	in := make(chan *asset.TransferAsset, 1)
	in <- a
	close(in)

	out := stage(context.Background(), in, bus)
	for range out {
		t.Fatal("expected no asset emitted on persistent failure")
	}
	select {
	case ev := <-errCh:
		if ev.Err == nil {
			t.Error("expected error event to carry an error")
		}
	default:
		t.Error("expected an error event to be published")
	}
}
