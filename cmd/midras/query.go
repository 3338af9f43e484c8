package main

import (
	"github.com/spf13/cobra"
)

type matchOutput struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func newQueryCmd(a *app) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query <index> <text>",
		Short: "Search an index with a text query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			matches, err := client.Query(ctx, args[0], args[1], k)
			if err != nil {
				return err
			}
			out := make([]matchOutput, len(matches))
			for i, m := range matches {
				out[i] = matchOutput{ID: m.ID.String(), Score: m.Score, Metadata: m.Metadata}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 5, "number of results")
	return cmd
}
