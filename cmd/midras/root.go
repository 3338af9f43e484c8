package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/config"
	logpkg "github.com/midras-ai/midras/internal/logger"
)

// app carries what every subcommand needs once the root has loaded it.
type app struct {
	env      string
	logLevel string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "midras",
		Short: "midras: multi-vector document embedding and search",
		Long: `midras embeds PDF documents and text queries with the midras ColBERT
service and indexes them in a pluggable vector store (memory, redis, qdrant, sqlite).

Configuration is read from config/<env>.yaml; ${VAR:-default} placeholders are
expanded from the environment.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.env, "env", config.GetEnv(), "configuration environment (local, dev, prod)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newEmbedTextCmd(a),
		newEmbedPDFCmd(a),
		newIndexCmd(a),
		newQueryCmd(a),
		newHealthCmd(a),
		newUsageCmd(a),
		newMockServerCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := a.logLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logpkg.NewLogger(a.env, level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
