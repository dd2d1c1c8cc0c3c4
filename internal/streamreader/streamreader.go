// Package streamreader drives a readable HTTP response body through a
// BufferAggregator into a BoundedQueue, reconnecting callers observe as a
// simple read/queue-full/error/done state machine.
package streamreader

import (
	"context"
	"io"

	"github.com/transferpipe/core/internal/bufferaggregator"
	"github.com/transferpipe/core/internal/queue"
)

// Item is a fixed-size chunk produced by a StreamReader, or a terminal
// error. Exactly one of Data or Err is set on any Item taken from Next().
type Item struct {
	Data []byte
	Err  error
}

type state int

const (
	stateRead state = iota
	stateQueueFull
	stateError
	stateDone
)

// Reader pulls from body in partSize chunks and pushes them into an
// internal BoundedQueue, exposed to the caller as Next. Call Close to
// release the body early; Close only closes body, and the read goroutine
// ends once a read from it returns EOF or an error.
type Reader struct {
	body      io.ReadCloser
	agg       *bufferaggregator.Aggregator
	q         *queue.BoundedQueue[Item]
	cancelled bool
}

// New starts a goroutine that reads body in partSize-byte chunks,
// buffering up to queueCapacity chunks ahead of the consumer. ctx governs
// both the read loop and Next.
func New(ctx context.Context, body io.ReadCloser, partSize, queueCapacity int) *Reader {
	r := &Reader{
		body: body,
		agg:  bufferaggregator.New(partSize),
		q:    queue.New[Item](queueCapacity),
	}
	go r.run(ctx)
	return r
}

func (r *Reader) run(ctx context.Context) {
	buf := make([]byte, 64*1024)
	st := stateRead

	for {
		switch st {
		case stateRead:
			n, err := r.body.Read(buf)
			if n > 0 {
				for _, chunk := range r.agg.Push(buf[:n]) {
					if ctx.Err() != nil {
						st = stateDone
						break
					}
					if ok := r.q.Push(Item{Data: chunk}); !ok {
						st = stateQueueFull
					}
				}
			}
			if err == io.EOF {
				if final := r.agg.Flush(); final != nil {
					r.q.Push(Item{Data: final})
				}
				st = stateDone
			} else if err != nil {
				st = stateError
				r.handleError(err)
				return
			}
			if st == stateRead && ctx.Err() != nil {
				st = stateDone
			}
		case stateQueueFull:
			r.q.WaitForDrain(ctx)
			if ctx.Err() != nil {
				st = stateDone
				continue
			}
			st = stateRead
		case stateDone:
			r.q.Complete()
			return
		}
	}
}

func (r *Reader) handleError(err error) {
	if final := r.agg.Flush(); final != nil {
		r.q.Push(Item{Data: final})
	}
	r.q.Push(Item{Err: err})
	r.q.Complete()
}

// Next returns the next chunk or terminal error. ok is false once the
// stream has completed (EOF, error already delivered, or ctx done).
func (r *Reader) Next(ctx context.Context) (Item, bool) {
	return r.q.Pop(ctx)
}

// Close releases the underlying body. Safe to call once the stream is
// known to be done, or to cancel it early.
func (r *Reader) Close() error {
	r.cancelled = true
	return r.body.Close()
}
