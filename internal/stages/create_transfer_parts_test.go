package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/events"
)

func assetWithTarget(size, minPart, maxPart int64, urls []string) *asset.TransferAsset {
	return &asset.TransferAsset{
		Source:   asset.Asset{URI: "file:///src.bin"},
		Target:   asset.Asset{URI: "https://example.com/dst.bin"},
		Metadata: &asset.Metadata{ContentLength: size},
		MultipartTarget: &asset.MultipartTarget{
			UploadURLs:  urls,
			MinPartSize: minPart,
			MaxPartSize: maxPart,
		},
	}
}

func TestSplitPartsSingleURLSpansWholeAsset(t *testing.T) {
	a := assetWithTarget(100, 1, 1000, []string{"https://blob/part"})
	parts, err := splitParts(a, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	if parts[0].ContentRange.Start != 0 || parts[0].ContentRange.End != 100 {
		t.Errorf("range = %s, want [0,100)", parts[0].ContentRange)
	}
	if len(parts[0].TargetURLs) != 1 {
		t.Errorf("TargetURLs = %v, want 1 entry", parts[0].TargetURLs)
	}
}

func TestSplitPartsDividesEvenlyAcrossMultipleURLs(t *testing.T) {
	a := assetWithTarget(100, 1, 1000, []string{"https://blob/1", "https://blob/2"})
	parts, err := splitParts(a, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if parts[0].ContentRange.Start != 0 || parts[0].ContentRange.End != 50 {
		t.Errorf("part 0 range = %s, want [0,50)", parts[0].ContentRange)
	}
	if parts[1].ContentRange.Start != 50 || parts[1].ContentRange.End != 100 {
		t.Errorf("part 1 range = %s, want [50,100)", parts[1].ContentRange)
	}
}

func TestSplitPartsClampsToMinPartSize(t *testing.T) {
	a := assetWithTarget(10, 5, 1000, []string{"https://blob/1", "https://blob/2"})
	parts, err := splitParts(a, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if parts[0].ContentRange.Length() != 5 {
		t.Errorf("part 0 length = %d, want 5 (clamped to min)", parts[0].ContentRange.Length())
	}
}

func TestSplitPartsLastPartAbsorbsRemainder(t *testing.T) {
	// preferred=1 with min=1 leaves the first part at size 1; rather than
	// raising every part's size, the last part absorbs whatever the
	// uniform size doesn't cover so the asset is still fully covered.
	a := assetWithTarget(100, 1, 1000, []string{"https://blob/1", "https://blob/2"})
	parts, err := splitParts(a, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 || parts[1].ContentRange.End != 100 {
		t.Fatalf("parts = %+v, want full coverage to 100", parts)
	}
	if parts[0].ContentRange.Length() != 1 {
		t.Errorf("part 0 length = %d, want 1 (unraised)", parts[0].ContentRange.Length())
	}
	if parts[1].ContentRange.Start != 1 || parts[1].ContentRange.Length() != 99 {
		t.Errorf("part 1 = %s, want [1,100) absorbing the remainder", parts[1].ContentRange)
	}
}

func TestSplitPartsClampedSizeRemainderGoesToLastPart(t *testing.T) {
	// N=250 across 3 URLs, min=50, max=100, preferred=80: a uniform size
	// of 80 only covers 240 of 250 bytes, so the last part must absorb
	// the extra 10 bytes (size 90) instead of every part being raised to
	// ceilDiv(250,3)=84.
	a := assetWithTarget(250, 50, 100, []string{"https://blob/1", "https://blob/2", "https://blob/3"})
	parts, err := splitParts(a, 80)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	want := []struct{ start, end int64 }{{0, 80}, {80, 160}, {160, 250}}
	for i, w := range want {
		if parts[i].ContentRange.Start != w.start || parts[i].ContentRange.End != w.end {
			t.Errorf("part %d range = %s, want [%d,%d)", i, parts[i].ContentRange, w.start, w.end)
		}
	}
}

func TestSplitPartsFailsWhenRaisedSizeExceedsMax(t *testing.T) {
	a := assetWithTarget(100, 1, 10, []string{"https://blob/1", "https://blob/2"})
	_, err := splitParts(a, 1)
	if err == nil {
		t.Fatal("expected an error")
	}
	var invalid *ErrInvalidPartSize
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *ErrInvalidPartSize", err)
	}
}

func TestSplitPartsSynthesizesTargetForDownloadAsset(t *testing.T) {
	const partSize = 8 * 1024 * 1024
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "https://example.com/src.bin"},
		Target:   asset.Asset{URI: "file:///dst.bin"},
		Metadata: &asset.Metadata{ContentLength: 20 * 1024 * 1024},
	}
	parts, err := splitParts(a, partSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3 (ceil(20MiB/8MiB))", len(parts))
	}
	if parts[0].ContentRange.Start != 0 || parts[0].ContentRange.End != partSize {
		t.Errorf("part 0 range = %s, want [0,%d)", parts[0].ContentRange, partSize)
	}
	if parts[2].ContentRange.End != 20*1024*1024 {
		t.Errorf("part 2 range = %s, want ending at content length", parts[2].ContentRange)
	}
	for i, p := range parts {
		if len(p.TargetURLs) != 1 {
			t.Errorf("part %d TargetURLs = %v, want a single placeholder entry (never read by a download transfer)", i, p.TargetURLs)
		}
	}
}

func TestSplitPartsDownloadBelowMinPartSizeStaysWhole(t *testing.T) {
	// A download asset smaller than the preferred part size gets a
	// synthesized MultipartTarget with a single placeholder URL
	// (downloadPartCount rounds up to one part), so it stays whole exactly
	// like a single-URL upload asset.
	a := &asset.TransferAsset{
		Source:   asset.Asset{URI: "https://example.com/src.bin"},
		Target:   asset.Asset{URI: "file:///dst.bin"},
		Metadata: &asset.Metadata{ContentLength: 1},
	}
	parts, err := splitParts(a, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1 for a 1-byte asset", len(parts))
	}
	if parts[0].ContentRange.Start != 0 || parts[0].ContentRange.End != 1 {
		t.Errorf("range = %s, want [0,1)", parts[0].ContentRange)
	}
}

func TestCreateTransferPartsStreamsPartsAndPublishesErrors(t *testing.T) {
	good := assetWithTarget(10, 1, 1000, []string{"https://blob/1"})
	bad := assetWithTarget(100, 1, 10, []string{"https://blob/1", "https://blob/2"})

	bus := events.NewBus(4)
	errCh := bus.Subscribe(events.KindError)
	in := make(chan *asset.TransferAsset, 2)
	in <- good
	in <- bad
	close(in)

	stage := CreateTransferParts(0)
	out := stage(context.Background(), in, bus)

	var got []string
	for p := range out {
		got = append(got, p.Asset.Source.URI)
	}
	if len(got) != 1 {
		t.Fatalf("got %d parts, want 1 (from the valid asset)", len(got))
	}

	select {
	case ev := <-errCh:
		if ev.Err == nil {
			t.Error("expected error event for the invalid asset")
		}
	default:
		t.Error("expected an error event for the invalid asset")
	}
}
