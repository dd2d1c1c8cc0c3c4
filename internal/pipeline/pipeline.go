// Package pipeline provides the generic stage-composition primitives the
// transfer pipeline is built from: ConcurrentMap batches and bounds the
// concurrency of a stage function, and Pipeline composes same-typed stages
// in sequence. Stages that change the item type (e.g. asset to part and
// back) are wired directly as sequential channel stages in the stages
// package — Go's generics can't express a heterogeneous list of stages
// with differing type parameters, so that composition is ordinary function
// calls rather than a generic Pipeline[T] value.
package pipeline

import (
	"context"
	"sync"

	"github.com/transferpipe/core/internal/events"
)

// BatchFunc processes one accumulated batch of input items into zero or
// more output items. Errors are reported via bus, not returned, so a
// failing item doesn't stop sibling items in the same or other batches.
type BatchFunc[In, Out any] func(ctx context.Context, batch []In, bus *events.Bus) []Out

// CanExtendBatch reports whether item may be appended to the
// in-progress batch. The default (nil) always returns true.
type CanExtendBatch[In any] func(batch []In, item In) bool

// Options configures ConcurrentMap.
type Options[In any] struct {
	MaxBatchLength int
	MaxConcurrent  int
	Ordered        bool
	CanExtendBatch CanExtendBatch[In]
}

// ConcurrentMap accumulates items from source into batches of up to
// MaxBatchLength (cut early when CanExtendBatch returns false), runs fn
// over each batch with at most MaxConcurrent batches in flight, and
// streams the results to the returned channel — in source order if
// Ordered, in completion order otherwise. The returned channel is closed
// once source is exhausted and every in-flight batch has completed.
func ConcurrentMap[In, Out any](ctx context.Context, source <-chan In, bus *events.Bus, opts Options[In], fn BatchFunc[In, Out]) <-chan Out {
	if opts.MaxBatchLength < 1 {
		opts.MaxBatchLength = 1
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	canExtend := opts.CanExtendBatch
	if canExtend == nil {
		canExtend = func([]In, In) bool { return true }
	}

	out := make(chan Out)

	go func() {
		defer close(out)

		sem := make(chan struct{}, opts.MaxConcurrent)
		var wg sync.WaitGroup
		var ordered []chan []Out
		var emitMu sync.Mutex

		emit := func(items []Out) {
			for _, o := range items {
				select {
				case out <- o:
				case <-ctx.Done():
					return
				}
			}
		}

		spawn := func(batch []In) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			if opts.Ordered {
				fc := make(chan []Out, 1)
				ordered = append(ordered, fc)
				go func(b []In) {
					defer wg.Done()
					defer func() { <-sem }()
					fc <- fn(ctx, b, bus)
				}(batch)
			} else {
				go func(b []In) {
					defer wg.Done()
					defer func() { <-sem }()
					res := fn(ctx, b, bus)
					emitMu.Lock()
					emit(res)
					emitMu.Unlock()
				}(batch)
			}
		}

		var batch []In
	loop:
		for {
			select {
			case item, ok := <-source:
				if !ok {
					break loop
				}
				if len(batch) > 0 && (len(batch) >= opts.MaxBatchLength || !canExtend(batch, item)) {
					spawn(batch)
					batch = nil
				}
				batch = append(batch, item)
				if len(batch) >= opts.MaxBatchLength {
					spawn(batch)
					batch = nil
				}
			case <-ctx.Done():
				break loop
			}
		}
		if len(batch) > 0 {
			spawn(batch)
		}

		if opts.Ordered {
			for _, fc := range ordered {
				select {
				case items := <-fc:
					emit(items)
				case <-ctx.Done():
					wg.Wait()
					return
				}
			}
		}
		wg.Wait()
	}()

	return out
}

// Stage transforms a channel of T into a channel of T, given a shared
// event bus for observability. Used by Pipeline to compose same-typed
// stages in sequence.
type Stage[T any] func(ctx context.Context, in <-chan T, bus *events.Bus) <-chan T

// Pipeline composes a sequence of same-typed stages: Execute(source)
// equals stageN(...stage2(stage1(source))).
type Pipeline[T any] struct {
	stages []Stage[T]
}

// New builds a Pipeline from stages, executed in the given order.
func New[T any](stages ...Stage[T]) *Pipeline[T] {
	return &Pipeline[T]{stages: stages}
}

// Execute runs source through every stage in order and returns the final
// output channel.
func (p *Pipeline[T]) Execute(ctx context.Context, source <-chan T, bus *events.Bus) <-chan T {
	seq := source
	for _, s := range p.stages {
		seq = s(ctx, seq, bus)
	}
	return seq
}
