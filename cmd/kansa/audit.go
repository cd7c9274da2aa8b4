package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <run-id>",
		Short: "Print the ordered audit trail of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}

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

			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return fmt.Errorf("load run: %w", err)
			}
			trail, err := store.AuditTrail(ctx, runID)
			if err != nil {
				return fmt.Errorf("load audit trail: %w", err)
			}

			out, _ := json.MarshalIndent(map[string]any{
				"run_id": run.ID,
				"status": run.Status,
				"events": trail,
			}, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
}
