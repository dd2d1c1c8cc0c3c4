package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/transferpipe/core/internal/events"
)

func sourceChan(items ...int) <-chan int {
	ch := make(chan int)
	go func() {
		defer close(ch)
		for _, i := range items {
			ch <- i
		}
	}()
	return ch
}

func drain(ch <-chan int) []int {
	var out []int
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func TestConcurrentMapOrderedPreservesSourceOrder(t *testing.T) {
	ctx := context.Background()
	src := sourceChan(1, 2, 3, 4, 5, 6)
	bus := events.NewBus(1)

	fn := func(ctx context.Context, batch []int, bus *events.Bus) []int {
		time.Sleep(time.Duration(10-batch[0]) * time.Millisecond)
		return batch
	}

	out := ConcurrentMap(ctx, src, bus, Options[int]{MaxBatchLength: 1, MaxConcurrent: 4, Ordered: true}, fn)
	got := drain(out)
	want := []int{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v (order mismatch at %d)", got, want, i)
		}
	}
}

func TestConcurrentMapBatchesByMaxBatchLength(t *testing.T) {
	ctx := context.Background()
	src := sourceChan(1, 2, 3, 4, 5)
	bus := events.NewBus(1)

	var batchSizes []int
	var mu sync.Mutex
	fn := func(ctx context.Context, batch []int, bus *events.Bus) []int {
		mu.Lock()
		batchSizes = append(batchSizes, len(batch))
		mu.Unlock()
		return batch
	}

	out := ConcurrentMap(ctx, src, bus, Options[int]{MaxBatchLength: 2, MaxConcurrent: 1, Ordered: true}, fn)
	got := drain(out)
	if len(got) != 5 {
		t.Fatalf("got %d items, want 5", len(got))
	}
	sort.Ints(batchSizes)
	want := []int{1, 2, 2}
	if len(batchSizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", batchSizes, want)
	}
	for i := range want {
		if batchSizes[i] != want[i] {
			t.Errorf("batch sizes = %v, want %v", batchSizes, want)
		}
	}
}

func TestConcurrentMapRespectsMaxConcurrent(t *testing.T) {
	ctx := context.Background()
	src := sourceChan(1, 2, 3, 4, 5, 6, 7, 8)
	bus := events.NewBus(1)

	var active, maxActive int32
	var mu sync.Mutex
	fn := func(ctx context.Context, batch []int, bus *events.Bus) []int {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return batch
	}

	out := ConcurrentMap(ctx, src, bus, Options[int]{MaxBatchLength: 1, MaxConcurrent: 3, Ordered: false}, fn)
	drain(out)

	if maxActive > 3 {
		t.Errorf("observed %d concurrent batches, want <= 3", maxActive)
	}
}

func TestConcurrentMapUnorderedDeliversAllItems(t *testing.T) {
	ctx := context.Background()
	src := sourceChan(1, 2, 3, 4, 5)
	bus := events.NewBus(1)

	fn := func(ctx context.Context, batch []int, bus *events.Bus) []int { return batch }
	out := ConcurrentMap(ctx, src, bus, Options[int]{MaxBatchLength: 1, MaxConcurrent: 4, Ordered: false}, fn)
	got := drain(out)
	sort.Ints(got)
	want := []int{1, 2, 3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestConcurrentMapCanExtendBatchCutsEarly(t *testing.T) {
	ctx := context.Background()
	src := sourceChan(1, 2, 100, 3, 4)
	bus := events.NewBus(1)

	var batchSizes []int
	var mu sync.Mutex
	fn := func(ctx context.Context, batch []int, bus *events.Bus) []int {
		mu.Lock()
		batchSizes = append(batchSizes, len(batch))
		mu.Unlock()
		return batch
	}

	canExtend := func(batch []int, item int) bool { return item < 100 }
	out := ConcurrentMap(ctx, src, bus, Options[int]{MaxBatchLength: 10, MaxConcurrent: 1, Ordered: true, CanExtendBatch: canExtend}, fn)
	got := drain(out)
	if len(got) != 5 {
		t.Fatalf("got %d items, want 5", len(got))
	}
	// batch cut right before the 100 item; 100 and the trailing items form the second batch
	if len(batchSizes) < 2 {
		t.Errorf("batchSizes = %v, want at least 2 batches (cut at the 100 boundary)", batchSizes)
	}
}

func TestPipelineComposesStagesInOrder(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(1)

	double := func(ctx context.Context, in <-chan int, bus *events.Bus) <-chan int {
		out := make(chan int)
		go func() {
			defer close(out)
			for v := range in {
				out <- v * 2
			}
		}()
		return out
	}
	addOne := func(ctx context.Context, in <-chan int, bus *events.Bus) <-chan int {
		out := make(chan int)
		go func() {
			defer close(out)
			for v := range in {
				out <- v + 1
			}
		}()
		return out
	}

	p := New(double, addOne)
	out := p.Execute(ctx, sourceChan(1, 2, 3), bus)
	got := drain(out)
	want := []int{3, 5, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
