package stages

import (
	"context"
	"testing"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/interval"
	"github.com/transferpipe/core/internal/tracker"
)

func TestJoinTransferPartsEmitsOnceAllPartsRecorded(t *testing.T) {
	tr := tracker.New()
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: "https://example.com/dst"},
		Metadata: &asset.Metadata{ContentLength: 10},
	}
	tr.IsFirst(a.ID(), 10)
	tr.Record(a.ID(), 10, interval.Interval{Start: 0, End: 5})

	stage := JoinTransferParts(tr)
	bus := events.NewBus(4)
	in := make(chan *asset.TransferPart, 2)
	in <- &asset.TransferPart{Asset: a, ContentRange: interval.Interval{Start: 0, End: 5}}
	in <- &asset.TransferPart{Asset: a, ContentRange: interval.Interval{Start: 5, End: 10}}
	close(in)

	tr.Record(a.ID(), 10, interval.Interval{Start: 5, End: 10})

	out := stage(context.Background(), in, bus)
	var got []*asset.TransferAsset
	for o := range out {
		got = append(got, o)
	}
	if len(got) != 1 {
		t.Fatalf("got %d emitted assets, want 1", len(got))
	}
	if got[0] != a {
		t.Error("emitted asset is not the expected one")
	}
}

func TestJoinTransferPartsWithholdsIncompleteAsset(t *testing.T) {
	tr := tracker.New()
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: "https://example.com/dst"},
		Metadata: &asset.Metadata{ContentLength: 10},
	}
	tr.IsFirst(a.ID(), 10)
	tr.Record(a.ID(), 10, interval.Interval{Start: 0, End: 5})

	stage := JoinTransferParts(tr)
	bus := events.NewBus(4)
	in := make(chan *asset.TransferPart, 1)
	in <- &asset.TransferPart{Asset: a, ContentRange: interval.Interval{Start: 0, End: 5}}
	close(in)

	out := stage(context.Background(), in, bus)
	for range out {
		t.Fatal("expected no asset emitted while incomplete")
	}
}
