package stages

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
)

func TestCheckDiskSpacePassesRealisticRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dst.bin")
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "https://example.com/src.bin"},
		Target:   asset.Asset{URI: "file://" + path},
		Metadata: &asset.Metadata{ContentLength: 1024},
	}

	stage := CheckDiskSpace(1.1)
	bus := events.NewBus(4)
	in := make(chan *asset.TransferAsset, 1)
	in <- a
	close(in)

	out := stage(context.Background(), in, bus)
	got, ok := <-out
	if !ok || got != a {
		t.Fatal("expected the asset to pass through a realistic 1KiB request")
	}
}

func TestCheckDiskSpaceRejectsImpossibleRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dst.bin")
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "https://example.com/src.bin"},
		Target:   asset.Asset{URI: "file://" + path},
		Metadata: &asset.Metadata{ContentLength: 1 << 62},
	}

	bus := events.NewBus(4)
	errCh := bus.Subscribe(events.KindError)
	stage := CheckDiskSpace(1.1)
	in := make(chan *asset.TransferAsset, 1)
	in <- a
	close(in)

	out := stage(context.Background(), in, bus)
	if _, ok := <-out; ok {
		t.Fatal("expected the asset to be withdrawn for an impossibly large request")
	}
	select {
	case ev := <-errCh:
		if ev.Err == nil {
			t.Error("expected an error event")
		}
	default:
		t.Error("expected an error event for the rejected asset")
	}
}

func TestCheckDiskSpaceSkipsNonFileTargets(t *testing.T) {
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: "https://example.com/dst.bin"},
		Metadata: &asset.Metadata{ContentLength: 1 << 62},
	}

	stage := CheckDiskSpace(1.1)
	bus := events.NewBus(4)
	in := make(chan *asset.TransferAsset, 1)
	in <- a
	close(in)

	out := stage(context.Background(), in, bus)
	got, ok := <-out
	if !ok || got != a {
		t.Fatal("expected a non-file target to pass through regardless of size")
	}
}
