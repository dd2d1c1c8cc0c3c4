package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/transferpipe/core/internal/aem"
	"github.com/transferpipe/core/internal/clouduri"
	"github.com/transferpipe/core/internal/config"
	"github.com/transferpipe/core/internal/events"
	ihttp "github.com/transferpipe/core/internal/http"
	"github.com/transferpipe/core/internal/logging"
	"github.com/transferpipe/core/internal/progress"
	"github.com/transferpipe/core/internal/retry"
	"github.com/transferpipe/core/internal/transfer"
	"golang.org/x/term"
)

// transferUI is the subset of progress.TransferUI/NoOpTransferUI a
// command drives, satisfied by both concrete types.
type transferUI interface {
	Run(ctx context.Context, bus *events.Bus)
	Wait()
}

// session bundles the ambient stack a command needs to run a batch of
// transfers: config, event bus, logger, progress UI, and the controller
// that wires the pipeline stages.
type session struct {
	cfg        *config.Config
	bus        *events.Bus
	logger     *logging.Logger
	controller *transfer.Controller
	ui         transferUI
}

func retryPolicyFromConfig(cfg *config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.MaxDurationMs > 0 {
		p.MaxDuration = time.Duration(cfg.MaxDurationMs) * time.Millisecond
	}
	if cfg.InitialDelayMs > 0 {
		p.InitialDelay = time.Duration(cfg.InitialDelayMs) * time.Millisecond
	}
	if cfg.Backoff > 0 {
		p.Backoff = cfg.Backoff
	}
	if cfg.SocketTimeoutMs > 0 {
		p.SocketTimeout = time.Duration(cfg.SocketTimeoutMs) * time.Millisecond
	}
	p.RetryAllErrors = cfg.RetryAllErrors
	return p
}

// newSession loads config, builds the data-plane and control-plane HTTP
// clients, and wires a transfer.Controller ready for Upload/DownloadFiles.
// totalFiles/totalBytes feed the resource manager's thread-budget
// heuristic and the progress UI's bar count.
func newSession(totalFiles int, totalBytes int64) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	bus := events.NewBus(0)
	logger := logging.NewLogger(os.Stderr, bus)

	httpClient, err := ihttp.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	aemClient := aem.NewClient(cfg, httpClient)
	cloud := clouduri.New()

	rm := CreateResourceManager()
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = rm.AllocateForTransfer("cli-batch", totalBytes, totalFiles)
	}

	controller := transfer.NewController(httpClient, aemClient, cloud, bus, retryPolicyFromConfig(cfg), maxConcurrent, cfg.PreferredPartSize, 3)

	var ui transferUI
	if noProgress || !term.IsTerminal(int(os.Stderr.Fd())) {
		ui = progress.NewNoOpTransferUI()
	} else {
		ui = progress.NewTransferUI(totalFiles)
	}

	return &session{cfg: cfg, bus: bus, logger: logger, controller: controller, ui: ui}, nil
}

// runWithProgress starts the session's progress UI in the background,
// runs work, then lets the UI drain remaining events before returning.
func (s *session) runWithProgress(ctx context.Context, work func() error) error {
	uiCtx, cancelUI := context.WithCancel(ctx)
	defer cancelUI()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ui.Run(uiCtx, s.bus)
	}()

	err := work()

	cancelUI()
	s.ui.Wait()
	<-done
	return err
}
