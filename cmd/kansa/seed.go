package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kansa/internal/demo"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load synthetic customers, transactions, and policy documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			store, err := openStoreCtx(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			embedder := newEmbeddingProvider(ctx, cfg, logger)

			counts, err := demo.Seed(ctx, store, embedder, logger)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			out, _ := json.MarshalIndent(counts, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
}
