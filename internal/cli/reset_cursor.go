package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/storage/postgres"
)

var (
	resetAddress string
	resetBlock   uint64
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor",
	Short: "Move the polling cursor of an address to a given block",
	Run:   runResetCursor,
}

func init() {
	resetCursorCmd.Flags().StringVar(&resetAddress, "address", "", "wallet address")
	resetCursorCmd.Flags().Uint64Var(&resetBlock, "block", 0, "last processed block")
	_ = resetCursorCmd.MarkFlagRequired("address")
	_ = resetCursorCmd.MarkFlagRequired("block")
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	if !domain.IsValidAddress(resetAddress) {
		fmt.Printf("Invalid address: %s\n", resetAddress)
		os.Exit(1)
	}

	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	address := domain.NormalizeAddress(resetAddress)
	err := postgres.NewCursorRepo(db).Save(ctx, &domain.AddressCursor{
		Address:   address,
		Block:     resetBlock,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Cursor for %s reset to block %d\n", address, resetBlock)
}
