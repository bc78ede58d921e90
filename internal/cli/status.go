package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/affiliate-indexer/internal/core/config"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint position of every indexed chain",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	rows, err := db.QueryContext(ctx,
		"SELECT chain_id, last_safe_block, last_safe_block_hash, updated_at FROM checkpoints ORDER BY chain_id")
	if err != nil {
		slog.Error("Failed to query checkpoints", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHAIN\tSAFE BLOCK\tHASH\tUPDATED")

	for rows.Next() {
		var chainID, hash string
		var block int64
		var updatedAt time.Time
		if err := rows.Scan(&chainID, &block, &hash, &updatedAt); err != nil {
			continue
		}
		if len(hash) > 12 {
			hash = hash[:12] + "…"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", chainID, block, hash, updatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
