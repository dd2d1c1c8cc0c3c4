// Package events implements the transfer controller's event bus: a sum
// type of transfer-lifecycle events plus a non-blocking fan-out listener
// registry keyed by event kind.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/transferpipe/core/internal/constants"
)

// Kind enumerates the transfer-lifecycle event kinds a stage may emit.
type Kind string

const (
	KindGetAssetMetadata        Kind = "GetAssetMetadata"
	KindAfterGetAssetMetadata   Kind = "AfterGetAssetMetadata"
	KindAemInitiateUpload       Kind = "AemInitiateUpload"
	KindAfterAemInitiateUpload  Kind = "AfterAemInitiateUpload"
	KindTransferStart           Kind = "TransferStart"
	KindTransferProgress        Kind = "TransferProgress"
	KindTransferComplete        Kind = "TransferComplete"
	KindAemCompleteUpload       Kind = "AemCompleteUpload"
	KindAfterAemCompleteUpload  Kind = "AfterAemCompleteUpload"
	KindRetry                   Kind = "Retry"
	KindError                   Kind = "Error"
)

// Event is a single occurrence on the transfer controller's bus. Not every
// field applies to every Kind; stages populate only what's relevant to the
// kind they emit (e.g. Transferred only accompanies TransferProgress and
// TransferComplete).
type Event struct {
	Kind      Kind
	Time      time.Time
	Stage     string // the emitting stage's name, e.g. "AemInitiateUpload"
	AssetURI  string // source or target URI of the asset this event concerns

	FileName     string
	FileSize     int64
	TargetFolder string
	TargetFile   string

	Transferred int64 // bytes transferred so far (TransferProgress/TransferComplete)

	Err error // set only for KindError

	Props map[string]any // free-form stage-specific properties
}

// Bus fans out Events to subscribers. Publish is non-blocking: a
// subscriber whose buffered channel is full has the event dropped rather
// than stalling the publishing stage, with a counter tracking drops for
// monitoring.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]chan Event
	all         []chan Event
	bufferSize  int
	closed      bool
	dropped     atomic.Int64

	firstErrMu sync.Mutex
	firstErr   *Event
}

// NewBus creates an event bus. bufferSize <= 0 uses the package default.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &Bus{
		subscribers: make(map[Kind][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving events of the given kind.
func (b *Bus) Subscribe(kind Kind) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, b.bufferSize)
	b.subscribers[kind] = append(b.subscribers[kind], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event regardless of kind.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish fans out ev to all matching subscribers, non-blocking. It is the
// low-level primitive; stages normally call Notify/NotifyError instead.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Kind == KindError {
		b.latchFirstError(ev)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subscribers[ev.Kind] {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Notify is the stage-facing convenience entry point: emit an event of the
// given kind, scoped to stage and assetURI, with optional free-form props.
func (b *Bus) Notify(kind Kind, stage, assetURI string, props map[string]any) {
	b.Publish(Event{Kind: kind, Stage: stage, AssetURI: assetURI, Props: props})
}

// NotifyError emits a KindError event for the given stage/asset and
// latches it as the bus's first error if none has been recorded yet.
func (b *Bus) NotifyError(stage, assetURI string, err error) {
	b.Publish(Event{Kind: KindError, Stage: stage, AssetURI: assetURI, Err: err})
}

func (b *Bus) latchFirstError(ev Event) {
	b.firstErrMu.Lock()
	defer b.firstErrMu.Unlock()
	if b.firstErr == nil {
		cp := ev
		b.firstErr = &cp
	}
}

// FirstError returns the earliest error event published on this bus, or
// nil if none has occurred yet. Used by the direct-binary-upload
// capability probe to decide whether the host supports the fast path.
func (b *Bus) FirstError() *Event {
	b.firstErrMu.Lock()
	defer b.firstErrMu.Unlock()
	return b.firstErr
}

// ResetFirstError clears the latched first error, e.g. between probe runs
// against different hosts.
func (b *Bus) ResetFirstError() {
	b.firstErrMu.Lock()
	defer b.firstErrMu.Unlock()
	b.firstErr = nil
}

// Unsubscribe removes ch from kind's subscriber list.
func (b *Bus) Unsubscribe(kind Kind, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	subs := b.subscribers[kind]
	for i, sub := range subs {
		if sub == ch {
			subs[i] = subs[len(subs)-1]
			b.subscribers[kind] = subs[:len(subs)-1]
			return
		}
	}
}

// UnsubscribeAll removes ch from every kind's subscriber list and the
// all-events list.
func (b *Bus) UnsubscribeAll(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for kind, subs := range b.subscribers {
		for i, sub := range subs {
			if sub == ch {
				subs[i] = subs[len(subs)-1]
				b.subscribers[kind] = subs[:len(subs)-1]
				break
			}
		}
	}
	for i, sub := range b.all {
		if sub == ch {
			b.all[i] = b.all[len(b.all)-1]
			b.all = b.all[:len(b.all)-1]
			break
		}
	}
}

// Close shuts down the bus, closing every subscriber channel. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

// DroppedCount returns the number of events dropped due to full subscriber buffers.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}
