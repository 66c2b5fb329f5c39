package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/storage/postgres"
)

var statusAddresses []string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the polling cursor of watched addresses",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringSliceVar(&statusAddresses, "address", nil, "only show these addresses")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	repo := postgres.NewCursorRepo(db)

	var (
		cursors []domain.AddressCursor
		err     error
	)
	if len(statusAddresses) > 0 {
		addrs := make([]string, 0, len(statusAddresses))
		for _, a := range statusAddresses {
			addrs = append(addrs, domain.NormalizeAddress(a))
		}
		cursors, err = repo.GetMany(ctx, addrs)
	} else {
		cursors, err = repo.List(ctx)
	}
	if err != nil {
		slog.Error("Failed to query cursors", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ADDRESS\tBLOCK\tUPDATED")
	for _, c := range cursors {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", c.Address, c.Block, c.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
