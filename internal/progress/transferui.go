package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/transferpipe/core/internal/events"
)

// TransferUI renders one mpb bar per in-flight asset, fed entirely by
// events.Bus subscriptions: it never talks to a stage directly, so a
// single implementation covers both the upload and download directions
// (distinguished only by the arrow drawn in a bar's label).
type TransferUI struct {
	progress   *mpb.Progress
	bars       sync.Map // assetURI -> *transferBar
	isTerminal bool
	totalFiles int
	started    int32
	completed  int32
}

type transferBar struct {
	bar        *mpb.Bar
	ui         *TransferUI
	index      int
	fileName   string
	direction  string
	size       int64
	retries    int32
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
}

// NewTransferUI creates a UI sized for totalFiles concurrent bars. Bars
// only render when stderr is a terminal; otherwise progress prints as
// plain start/complete lines.
func NewTransferUI(totalFiles int) *TransferUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &TransferUI{progress: p, isTerminal: isTerminal, totalFiles: totalFiles}
}

// Run subscribes to bus and drives every bar until ctx is canceled or bus
// is closed (all subscriber channels close together, ending this loop).
func (u *TransferUI) Run(ctx context.Context, bus *events.Bus) {
	starts := bus.Subscribe(events.KindTransferStart)
	progressEvents := bus.Subscribe(events.KindTransferProgress)
	completes := bus.Subscribe(events.KindTransferComplete)
	retries := bus.Subscribe(events.KindRetry)
	errs := bus.Subscribe(events.KindError)
	defer func() {
		bus.Unsubscribe(events.KindTransferStart, starts)
		bus.Unsubscribe(events.KindTransferProgress, progressEvents)
		bus.Unsubscribe(events.KindTransferComplete, completes)
		bus.Unsubscribe(events.KindRetry, retries)
		bus.Unsubscribe(events.KindError, errs)
	}()

	for {
		select {
		case ev, ok := <-starts:
			if !ok {
				return
			}
			u.onStart(ev)
		case ev, ok := <-progressEvents:
			if !ok {
				return
			}
			u.onProgress(ev)
		case ev, ok := <-completes:
			if !ok {
				return
			}
			u.onComplete(ev, nil)
		case ev, ok := <-retries:
			if !ok {
				return
			}
			u.onRetry(ev)
		case ev, ok := <-errs:
			if !ok {
				return
			}
			if ev.Stage == "Transfer" {
				u.onComplete(ev, ev.Err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (u *TransferUI) onStart(ev events.Event) {
	direction := "→"
	if d, _ := ev.Props["direction"].(string); d == "download" {
		direction = "←"
	}
	index := int(atomic.AddInt32(&u.started, 1))
	label := ev.FileName
	if label == "" {
		label = truncatePath(ev.AssetURI, 2)
	}

	fb := &transferBar{
		ui:         u,
		index:      index,
		fileName:   label,
		direction:  direction,
		size:       ev.FileSize,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}

	if u.isTerminal {
		fb.bar = u.progress.New(ev.FileSize,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					retries := atomic.LoadInt32(&fb.retries)
					base := fmt.Sprintf("[%d/%d] %s %s (%.1f MiB)",
						fb.index, u.totalFiles, fb.direction, label, float64(ev.FileSize)/(1024*1024))
					if retries > 0 {
						return fmt.Sprintf("%s (retry %d)", base, retries)
					}
					return base
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
				decor.Name("  "),
				decor.Name("ETA ", decor.WCSyncWidth),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(os.Stderr, "[%d/%d] %s %s (%.1f MiB)\n",
			index, u.totalFiles, direction, label, float64(ev.FileSize)/(1024*1024))
	}

	u.bars.Store(ev.AssetURI, fb)
}

func (u *TransferUI) onProgress(ev events.Event) {
	v, ok := u.bars.Load(ev.AssetURI)
	if !ok {
		return
	}
	fb := v.(*transferBar)
	if fb.bar == nil {
		return
	}

	now := time.Now()
	elapsed := now.Sub(fb.lastUpdate)
	bytesDelta := ev.Transferred - fb.lastBytes

	// Ticker-driven throttle: only push into mpb every 300ms, but always
	// account for elapsed time when we do so EWMA speed/ETA stay accurate.
	const updateInterval = 300 * time.Millisecond
	if elapsed >= updateInterval {
		fb.bar.EwmaIncrBy(int(bytesDelta), elapsed)
		fb.lastBytes = ev.Transferred
		fb.lastUpdate = now
	}
}

func (u *TransferUI) onRetry(ev events.Event) {
	v, ok := u.bars.Load(ev.AssetURI)
	if !ok {
		return
	}
	fb := v.(*transferBar)
	attempt, _ := ev.Props["attempt"].(int)
	atomic.StoreInt32(&fb.retries, int32(attempt))
	if fb.bar != nil {
		fb.bar.SetRefill(fb.lastBytes)
	}
}

func (u *TransferUI) onComplete(ev events.Event, err error) {
	v, ok := u.bars.LoadAndDelete(ev.AssetURI)
	if !ok {
		return
	}
	fb := v.(*transferBar)
	elapsed := time.Since(fb.startTime)
	speed := float64(fb.size) / elapsed.Seconds() / (1024 * 1024)

	var msg string
	if err == nil {
		if fb.bar != nil {
			fb.bar.SetCurrent(fb.size)
			fb.bar.SetTotal(fb.size, true)
		}
		msg = fmt.Sprintf("✓ %s %s (%.1f MiB, %s, %.1f MiB/s)\n",
			fb.direction, fb.fileName, float64(fb.size)/(1024*1024), elapsed.Round(time.Second), speed)
	} else {
		if fb.bar != nil {
			fb.bar.Abort(false)
		}
		retries := atomic.LoadInt32(&fb.retries)
		msg = fmt.Sprintf("✗ %s %s: %v (after %d retries)\n", fb.direction, fb.fileName, err, retries)
	}

	if u.isTerminal && u.progress != nil {
		u.progress.Write([]byte(msg))
	} else {
		fmt.Fprint(os.Stderr, msg)
	}
	atomic.AddInt32(&u.completed, 1)
}

// Wait blocks until all progress bars complete.
func (u *TransferUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that safely prints above the progress bars.
func (u *TransferUI) Writer() io.Writer {
	if u.progress != nil && u.isTerminal {
		return u.progress
	}
	return os.Stderr
}

// IsTerminal reports whether bars are actually being rendered.
func (u *TransferUI) IsTerminal() bool {
	return u.isTerminal
}

// Completed returns how many assets have finished, successfully or not.
func (u *TransferUI) Completed() int {
	return int(atomic.LoadInt32(&u.completed))
}

// truncatePath truncates a file path to show only the last N components.
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}

// enableANSIOnWindows enables Virtual Terminal processing on Windows so
// ANSI escape sequences render; a no-op on other platforms.
func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}

// NoOpTransferUI discards every event; used for non-interactive or
// log-only runs where rendering bars would be pointless noise.
type NoOpTransferUI struct{}

// NewNoOpTransferUI creates a TransferUI that renders nothing.
func NewNoOpTransferUI() *NoOpTransferUI { return &NoOpTransferUI{} }

func (NoOpTransferUI) Run(ctx context.Context, bus *events.Bus) { <-ctx.Done() }
func (NoOpTransferUI) Wait()                                    {}
func (NoOpTransferUI) Writer() io.Writer                        { return os.Stderr }
func (NoOpTransferUI) IsTerminal() bool                         { return false }
func (NoOpTransferUI) Completed() int                           { return 0 }
