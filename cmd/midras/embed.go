package main

import (
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/midras-ai/midras"
)

// embeddingSummary is the printed result of an embed command.
type embeddingSummary struct {
	CreditsSpent int              `json:"credits_spent"`
	Count        int              `json:"count"`
	Shapes       [][2]int         `json:"shapes"`
	Embeddings   []midras.ColBERT `json:"embeddings,omitempty"`
}

func summarize(resp midras.EmbeddingResponse, full bool) embeddingSummary {
	s := embeddingSummary{
		CreditsSpent: resp.CreditsSpent,
		Count:        len(resp.Embeddings),
		Shapes:       make([][2]int, len(resp.Embeddings)),
	}
	for i, e := range resp.Embeddings {
		s.Shapes[i] = [2]int{len(e), e.Dims()}
	}
	if full {
		s.Embeddings = resp.Embeddings
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEmbedTextCmd(a *app) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "embed-text <text>...",
		Short: "Embed text queries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.EmbedText(ctx, args, midras.Mode(a.cfg.Embedding.Mode))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summarize(resp, full))
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print the embeddings, not only their shapes")
	return cmd
}

func newEmbedPDFCmd(a *app) *cobra.Command {
	var (
		full      bool
		batchSize int
		imagesDir string
	)
	cmd := &cobra.Command{
		Use:   "embed-pdf <path>",
		Short: "Rasterize a PDF and embed its pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if batchSize == 0 {
				batchSize = a.cfg.Embedding.BatchSize
			}
			resp, err := client.EmbedPDF(ctx, args[0], batchSize, imagesDir != "")
			if err != nil {
				return err
			}
			if imagesDir != "" {
				if err := writePages(imagesDir, resp.Images); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), summarize(resp, full))
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print the embeddings, not only their shapes")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "pages per request (default from config)")
	cmd.Flags().StringVar(&imagesDir, "images-dir", "", "write the rasterized pages as PNG files to this directory")
	return cmd
}

func writePages(dir string, pages []midras.Image) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}
	for i, img := range pages {
		path := filepath.Join(dir, fmt.Sprintf("page-%03d.png", i+1))
		f, err := os.Create(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		err = png.Encode(f, img)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
