package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/dropwatch/internal/infra/storage/postgres"
)

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "List wallet subscriptions",
	Run:   runSubscriptions,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(subscriptionsCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runSubscriptions(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	subs, err := postgres.NewSubscriptionRepo(db).List(ctx)
	if err != nil {
		slog.Error("Failed to list subscriptions", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ADDRESS\tUSER\tFID\tCHANNEL\tMIN VALUE")
	for _, s := range subs {
		channel := "-"
		if !s.Channel.IsZero() {
			channel = "registered"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Address, s.UserID, s.FID, channel, s.Filter.MinValue)
	}
	_ = w.Flush()
}

func runMigrate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")
}
