// Package cli provides the command-line interface for transferpipe.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transferpipe/core/internal/config"
	"github.com/transferpipe/core/internal/logging"
	"github.com/transferpipe/core/internal/resources"
	"github.com/transferpipe/core/internal/version"
)

var (
	cfgFile    string
	apiKey     string
	serviceURL string
	verbose    bool

	maxThreads  int
	noAutoScale bool

	noProgress bool

	logger *logging.Logger

	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "transferpipe",
		Short:   "Direct binary upload/download pipeline for a content-repository service",
		Version: version.Version + " (" + version.BuildTime + ")",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetVerbose(verbose)
			logger = logging.NewDefaultLogger()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Content-repository API key (overrides config/env)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service-url", "", "Content-repository service base URL (overrides config/env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().IntVar(&maxThreads, "max-threads", 0, "Maximum concurrent transfers (0 = auto-detect)")
	rootCmd.PersistentFlags().BoolVar(&noAutoScale, "no-auto-scale", false, "Disable automatic thread scaling")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar display")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI, cancelling the shared context on SIGINT/SIGTERM.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nreceived signal %v, cancelling transfers...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
}

// GetLogger returns the global CLI logger, lazily constructing one if
// Execute hasn't run yet (e.g. in a test harness).
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return logger
}

// GetContext returns the signal-aware root context.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// CreateResourceManager builds a resource manager from the global thread flags.
func CreateResourceManager() *resources.Manager {
	if maxThreads < 0 || maxThreads > 32 {
		fmt.Fprintln(os.Stderr, "warning: --max-threads must be between 0 and 32, using auto-detect")
		maxThreads = 0
	}
	return resources.NewManager(resources.Config{
		MaxThreads: maxThreads,
		AutoScale:  !noAutoScale,
	})
}

// loadConfig layers config.Load with the global --api-key/--service-url/--verbose flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if serviceURL != "" {
		cfg.ServiceBaseURL = serviceURL
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}
