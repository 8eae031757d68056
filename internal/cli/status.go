package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/robinmin/ccbridge/internal/infra/storage/postgres"
)

var statusWorkspace string
var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent archived requests for a workspace",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusWorkspace, "workspace", "", "workspace to inspect (required)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max records to show")
	_ = statusCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if cfg.Database.URL == "" {
		slog.Error("status requires a configured database")
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

	repo := postgres.NewArchiveRepo(db)
	records, err := repo.History(ctx, statusWorkspace, statusLimit)
	if err != nil {
		slog.Error("Failed to query archive", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "REQUEST\tSTATE\tCREATED\tTIMED OUT\tERROR")

	for _, rec := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
			rec.RequestID, rec.State, rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.TimedOut, rec.Error)
	}
	_ = w.Flush()
}
