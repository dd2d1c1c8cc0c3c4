package progress

import (
	"context"
	"io"

	"github.com/transferpipe/core/internal/events"
)

// ProgressUI is the interface the CLI drives a transfer run's progress
// display through. TransferUI renders bars via mpb; NoOpTransferUI
// discards everything, for non-interactive or log-only runs.
type ProgressUI interface {
	// Run subscribes to bus and renders bars for every asset until ctx is
	// canceled or bus is closed. Intended to run in its own goroutine
	// alongside the pipeline.
	Run(ctx context.Context, bus *events.Bus)

	// Wait blocks until every rendered bar has settled (completed or
	// aborted). Call after the pipeline has finished and bus is closed.
	Wait()

	// Writer returns an io.Writer that prints safely above any active bars.
	Writer() io.Writer

	// IsTerminal reports whether bars are actually being rendered.
	IsTerminal() bool

	// Completed returns how many assets have finished, successfully or not.
	Completed() int
}
