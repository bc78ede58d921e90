package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/affiliate-indexer/internal/core/config"
	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage/postgres"
)

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint [chain_id] [block]",
	Short: "Force the checkpoint for a chain to a given block",
	Long:  `Overrides the stored checkpoint. The hash is cleared, so the next run trusts the provider for that block. Events above the new position are not removed.`,
	Args:  cobra.ExactArgs(2),
	Run:   runResetCheckpoint,
}

func init() {
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	chainID := domain.ChainID(args[0])
	block, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	// Direct SQL keeps the override independent of the monotonicity
	// rules the manager enforces at runtime.
	query := `INSERT INTO checkpoints (chain_id, last_safe_block, last_safe_block_hash, updated_at)
		VALUES ($1, $2, '', now())
		ON CONFLICT (chain_id) DO UPDATE SET
			last_safe_block = EXCLUDED.last_safe_block,
			last_safe_block_hash = EXCLUDED.last_safe_block_hash,
			updated_at = EXCLUDED.updated_at`
	if _, err := db.ExecContext(ctx, query, string(chainID), int64(block)); err != nil {
		slog.Error("Failed to reset checkpoint", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Checkpoint for %s set to block %d\n", chainID, block)
}
