package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	budgetrepo "github.com/midras-ai/midras/internal/repository/budget"
	"github.com/midras-ai/midras/internal/transport/api"
	"github.com/midras-ai/midras/internal/transport/openai"
	"github.com/midras-ai/midras/internal/usecase/embedding"
	"github.com/midras-ai/midras/internal/usecase/usage"
)

func newUsageCmd(a *app) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Report credits spent against the configured budget",
		Long: `usage reads the persisted credit counters and prints the spend of the
current UTC day or month. Counters are shared only by the redis backend;
other drivers keep them per process, so the report starts from zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := usage.ParsePeriod(period)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			store, kv, err := openStore(ctx, a.cfg.VectorStore)
			if err != nil {
				return fmt.Errorf("open %s vector store: %w", a.cfg.VectorStore.Driver, err)
			}
			defer store.Close()

			provider := api.DefaultProvider
			if a.cfg.Embedding.OpenAI.Enabled() {
				provider = openai.DefaultProvider
			}
			b := a.cfg.Embedding.Budget
			tracker := embedding.NewBudgetTracker(embedding.DefaultBudgetKeyPrefix, provider,
				b.DailyCreditLimit, b.MonthlyCreditLimit, embedding.BudgetAction(b.Action), a.logger)
			if kv != nil {
				tracker.WithStore(ctx, budgetrepo.New(kv, 0, 0))
			} else {
				a.logger.Warn("Vector store keeps no shared counters", zap.String("driver", a.cfg.VectorStore.Driver))
			}

			return printJSON(cmd.OutOrStdout(), usage.New(tracker, provider).GetReport(ctx, p))
		},
	}
	cmd.Flags().StringVar(&period, "period", string(usage.PeriodDay), "accounting period (day, month)")
	return cmd
}
