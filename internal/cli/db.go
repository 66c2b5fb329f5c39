package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/vietddude/dropwatch/internal/infra/storage/postgres"
)

// openDB connects to the configured database or exits.
func openDB(ctx context.Context) *postgres.DB {
	cfg := loadConfig()
	if !cfg.Database.Enabled() {
		slog.Error("database.url is not configured")
		os.Exit(1)
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return db
}
