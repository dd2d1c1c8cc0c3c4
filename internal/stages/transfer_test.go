package stages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/filehandlecache"
	"github.com/transferpipe/core/internal/interval"
	"github.com/transferpipe/core/internal/retry"
	"github.com/transferpipe/core/internal/tracker"
)

func testDeps() *Deps {
	return &Deps{
		Files:             filehandlecache.New(),
		Tracker:           tracker.New(),
		RetryPlan:         retry.Policy{MaxDuration: time.Second, InitialDelay: time.Millisecond, Backoff: 2.0, SocketTimeout: time.Second},
		PreferredPartSize: 8,
		RetryReconnectMax: 1,
	}
}

func TestTransferUploadsFileRangeViaPUT(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "src.bin")
	content := []byte("0123456789abcdef")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		received = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	deps := testDeps()
	part := &asset.TransferPart{
		Asset: &asset.TransferAsset{
			Source:   asset.Asset{URI: "file://" + srcPath},
			Target:   asset.Asset{URI: srv.URL + "/upload"},
			Metadata: &asset.Metadata{ContentLength: int64(len(content))},
		},
		TargetURLs:   []string{srv.URL + "/upload"},
		ContentRange: interval.Interval{Start: 2, End: 8},
	}

	stage := Transfer(srv.Client(), deps, 4)
	bus := events.NewBus(4)
	in := make(chan *asset.TransferPart, 1)
	in <- part
	close(in)

	out := stage(context.Background(), in, bus)
	got := <-out
	if got == nil {
		t.Fatal("expected part to pass through")
	}
	want := content[2:8]
	if string(received) != string(want) {
		t.Errorf("server received %q, want %q", received, want)
	}
}

func TestTransferDownloadsRangedBodyToFile(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Write(content)
			return
		}
		var start, end int64
		if _, err := parseRangeHeader(rng, &start, &end); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Range", "bytes */*")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
	defer srv.Close()

	dstPath := filepath.Join(t.TempDir(), "dst.bin")
	deps := testDeps()
	part := &asset.TransferPart{
		Asset: &asset.TransferAsset{
			Source:   asset.Asset{URI: srv.URL + "/download"},
			Target:   asset.Asset{URI: "file://" + dstPath},
			Metadata: &asset.Metadata{ContentLength: int64(len(content))},
		},
		ContentRange: interval.Interval{Start: 4, End: 19},
	}

	stage := Transfer(srv.Client(), deps, 4)
	bus := events.NewBus(4)
	in := make(chan *asset.TransferPart, 1)
	in <- part
	close(in)

	out := stage(context.Background(), in, bus)
	got := <-out
	if got == nil {
		t.Fatal("expected part to pass through")
	}
	deps.Files.CloseAll()

	data, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	want := content[4:19]
	if string(data[4:19]) != string(want) {
		t.Errorf("wrote %q at offset 4..19, want %q", data[4:19], want)
	}
}

func TestTransferUploadSurfacesErrorOnPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	srcPath := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(srcPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	deps := testDeps()
	deps.RetryPlan.MaxAttempts = 2
	part := &asset.TransferPart{
		Asset: &asset.TransferAsset{
			Source:   asset.Asset{URI: "file://" + srcPath},
			Target:   asset.Asset{URI: srv.URL},
			Metadata: &asset.Metadata{ContentLength: 5},
		},
		TargetURLs:   []string{srv.URL},
		ContentRange: interval.Interval{Start: 0, End: 5},
	}

	stage := Transfer(srv.Client(), deps, 4)
	bus := events.NewBus(4)
	errCh := bus.Subscribe(events.KindError)
	in := make(chan *asset.TransferPart, 1)
	in <- part
	close(in)

	out := stage(context.Background(), in, bus)
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected part to be dropped on persistent failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stage to finish")
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

// parseRangeHeader parses a "bytes=start-end" header into start/end.
func parseRangeHeader(h string, start, end *int64) (int, error) {
	return fmt.Sscanf(h, "bytes=%d-%d", start, end)
}
