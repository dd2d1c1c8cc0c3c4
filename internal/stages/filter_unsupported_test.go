package stages

import (
	"context"
	"testing"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
)

func TestFilterUnsupportedPassesValidAsset(t *testing.T) {
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: "https://example.com/dam/folder/ok.bin"},
		Metadata: &asset.Metadata{ContentLength: 10},
	}
	bus := events.NewBus(4)
	in := make(chan *asset.TransferAsset, 1)
	in <- a
	close(in)

	out := FilterUnsupported(context.Background(), in, bus)
	got, ok := <-out
	if !ok || got != a {
		t.Fatal("expected valid asset to pass through")
	}
}

func TestFilterUnsupportedDropsEmptyContent(t *testing.T) {
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: "https://example.com/dam/folder/empty.bin"},
		Metadata: &asset.Metadata{ContentLength: 0},
	}
	bus := events.NewBus(4)
	errCh := bus.Subscribe(events.KindError)
	in := make(chan *asset.TransferAsset, 1)
	in <- a
	close(in)

	out := FilterUnsupported(context.Background(), in, bus)
	for range out {
		t.Fatal("expected empty-content asset to be dropped")
	}
	select {
	case ev := <-errCh:
		if ev.Err == nil {
			t.Error("expected error event to carry an error")
		}
	default:
		t.Error("expected an error event for the dropped asset")
	}
}

func TestFilterUnsupportedDropsIllegalFilename(t *testing.T) {
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: "https://example.com/dam/folder/bad&file.bin"},
		Metadata: &asset.Metadata{ContentLength: 10},
	}
	bus := events.NewBus(4)
	in := make(chan *asset.TransferAsset, 1)
	in <- a
	close(in)

	out := FilterUnsupported(context.Background(), in, bus)
	for range out {
		t.Fatal("expected asset with illegal filename to be dropped")
	}
}
