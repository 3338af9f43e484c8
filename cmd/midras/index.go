package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/midras-ai/midras"
)

func newIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage vector store indexes",
	}
	cmd.AddCommand(newIndexCreateCmd(a), newIndexAddPDFCmd(a))
	return cmd
}

func newIndexCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			created, err := client.CreateIndex(ctx, args[0])
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "index %q created\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "index %q already exists\n", args[0])
			}
			return nil
		},
	}
}

func newIndexAddPDFCmd(a *app) *cobra.Command {
	var (
		batchSize int
		firstID   int64
	)
	cmd := &cobra.Command{
		Use:   "add-pdf <index> <path>",
		Short: "Embed every page of a PDF and add it to an index",
		Long: `Embed every page of a PDF and add one point per page to the index,
creating the index if needed. Points get consecutive integer ids starting at
--first-id and carry {"source": <path>, "page": <n>} as metadata.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, path := args[0], args[1]
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if _, err := client.CreateIndex(ctx, index); err != nil {
				return err
			}
			if batchSize == 0 {
				batchSize = a.cfg.Embedding.BatchSize
			}
			resp, err := client.EmbedPDF(ctx, path, batchSize, false)
			if err != nil {
				return err
			}
			for i, emb := range resp.Embeddings {
				id := midras.IntID(firstID + int64(i))
				meta := map[string]any{"source": path, "page": i + 1}
				if _, err := client.AddPoint(ctx, index, id, emb, meta); err != nil {
					return fmt.Errorf("add page %d: %w", i+1, err)
				}
			}
			a.logger.Info("Document indexed",
				zap.String("index", index),
				zap.String("path", path),
				zap.Int("pages", len(resp.Embeddings)),
				zap.Int("credits_spent", resp.CreditsSpent),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "added %d pages to %q (%d credits)\n",
				len(resp.Embeddings), index, resp.CreditsSpent)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "pages per request (default from config)")
	cmd.Flags().Int64Var(&firstID, "first-id", 1, "id of the first page")
	return cmd
}
