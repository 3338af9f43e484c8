package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/midras-ai/midras/internal/transport/api"
	"github.com/midras-ai/midras/internal/transport/openai"
	"github.com/midras-ai/midras/internal/usecase/health"
)

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the vector store and the embedding provider",
		Long: `health pings the configured vector store and probes the embedding provider,
then prints a JSON report. It exits non-zero unless every check passes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			store, _, err := openStore(ctx, a.cfg.VectorStore)
			if err != nil {
				return fmt.Errorf("open %s vector store: %w", a.cfg.VectorStore.Driver, err)
			}
			defer store.Close()

			var checker health.EmbeddingChecker
			if oa := a.cfg.Embedding.OpenAI; oa.Enabled() {
				checker = openai.NewEmbedder(&openai.Config{
					APIKey:  a.cfg.API.APIKey,
					BaseURL: oa.BaseURL,
					Model:   oa.Model,
					Logger:  a.logger,
				})
			} else {
				c := api.NewClient(&api.Config{
					BaseURL: a.cfg.API.BaseURL,
					Timeout: a.cfg.API.Timeout(),
					Logger:  a.logger,
				})
				defer c.Close()
				checker = c
			}

			report := health.New(store, checker, a.logger).Check(ctx)
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Status != health.Healthy {
				return fmt.Errorf("health status %s", report.Status)
			}
			return nil
		},
	}
}
