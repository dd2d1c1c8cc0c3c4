package streamreader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func collect(t *testing.T, r *Reader, ctx context.Context) ([]byte, error) {
	t.Helper()
	var out bytes.Buffer
	for {
		item, ok := r.Next(ctx)
		if !ok {
			return out.Bytes(), nil
		}
		if item.Err != nil {
			return out.Bytes(), item.Err
		}
		out.Write(item.Data)
	}
}

func TestReaderEmitsAllBytesOnEOF(t *testing.T) {
	ctx := context.Background()
	data := []byte("the quick brown fox jumps over the lazy dog")
	body := nopCloser{bytes.NewReader(data)}

	r := New(ctx, body, 7, 4)
	got, err := collect(t, r, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

type errReader struct {
	data []byte
	err  error
	read bool
}

func (e *errReader) Read(p []byte) (int, error) {
	if !e.read {
		e.read = true
		n := copy(p, e.data)
		return n, nil
	}
	return 0, e.err
}

func TestReaderSurfacesBodyError(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("connection reset")
	body := nopCloser{&errReader{data: []byte("partial"), err: wantErr}}

	r := New(ctx, body, 4, 4)
	_, err := collect(t, r, ctx)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestReaderBackpressureDoesNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data := bytes.Repeat([]byte("x"), 1000)
	body := nopCloser{bytes.NewReader(data)}

	r := New(ctx, body, 10, 1) // tiny queue forces QUEUE_FULL transitions
	got, err := collect(t, r, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(data) {
		t.Errorf("got %d bytes, want %d", len(got), len(data))
	}
}

func TestReaderCloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	pr, pw := io.Pipe()
	r := New(ctx, pr, 4, 4)

	go func() {
		pw.Write([]byte("abcd"))
	}()

	item, ok := r.Next(ctx)
	if !ok || string(item.Data) != "abcd" {
		t.Fatalf("first item = %+v, ok=%v", item, ok)
	}

	r.Close()
	pw.Close()
}
