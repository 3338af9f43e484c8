package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/metrics"
	"github.com/midras-ai/midras/internal/transport/api/apitest"
	"github.com/midras-ai/midras/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newMockServerCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local embedding service with deterministic embeddings",
		Long: `Run an in-process midras embedding service on /embed/images and
/embed/queries. Embeddings are deterministic, every unit costs one credit and
/metrics exposes Prometheus metrics. Point api.base_url at it for local work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.MockServer
			if port == 0 {
				port = cfg.Port
			}
			logger := a.logger

			metrics.RegisterEmbeddingMetrics()
			metrics.RegisterServiceMetrics()

			addr := fmt.Sprintf(":%d", port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           apitest.New(apitest.WithKeys(cfg.APIKeys...), apitest.WithDims(cfg.Dims)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting mock embedding service",
					zap.String("addr", addr),
					zap.String("version", version.String()),
					zap.Int("api_keys", len(cfg.APIKeys)),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err, ok := <-errCh:
				if ok {
					return fmt.Errorf("mock server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("Received shutdown signal")

			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error during shutdown", zap.Error(err))
			}
			logger.Info("Server stopped gracefully")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
