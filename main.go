// Command seedvault grows and maintains a local seismic waveform archive:
// it plans the remote requests a run needs, lands MiniSEED day files in an
// SDS tree, and keeps an SQLite index of exactly which intervals are held.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seismica/seedvault/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "seedvault",
	Short:         "Seismic waveform acquisition engine",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the run logger. Debug level when -v is set.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log, lerr := newLogger()
		if lerr == nil {
			log.Error("run failed", zap.Error(err))
			_ = log.Sync()
		}
		os.Exit(1)
	}
}
