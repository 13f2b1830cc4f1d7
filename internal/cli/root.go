package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanlog/server/internal/config"
	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
	"github.com/scanlog/server/internal/repository"
	"github.com/scanlog/server/internal/services"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=..."
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "scanlog",
	Short: "Count barcode scans per day",
	Long: `scanlog keeps a per-day tally of scanned barcodes. Scans go through a
duplicate guard that ignores rapid repeats of the same code, the last scan
of a day can be undone, and any day can be edited or exported as CSV.

Run 'scanlog serve' for the HTTP API and live feed, or 'scanlog listen' to
read codes from a keyboard-wedge scanner on stdin.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// stdout belongs to command output
		observability.GetLogger().SetOutput(os.Stderr)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// app is everything a command needs to work on the tally
type app struct {
	cfg       *config.Config
	repo      *repository.PreferenceRepository
	db        *sql.DB
	store     *services.TallyStore
	session   *services.ScanSession
	projector *services.Projector
	catalog   *services.Catalog
}

// openApp loads config and opens the store. metrics may be nil.
func openApp(metrics *observability.TallyMetrics) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openAppWith(cfg, metrics)
}

func openAppWith(cfg *config.Config, metrics *observability.TallyMetrics) (*app, error) {
	repo, db, err := repository.Open(cfg.DatabasePath, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	catalog, err := services.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		repo.Close()
		db.Close()
		return nil, err
	}

	store := services.NewTallyStore(repo,
		services.WithLocation(cfg.Location()),
		services.WithMetrics(metrics),
	)

	return &app{
		cfg:       cfg,
		repo:      repo,
		db:        db,
		store:     store,
		session:   services.NewScanSession(store, services.NewRecentEvents(cfg.RecentCapacity)),
		projector: services.NewProjector(store),
		catalog:   catalog,
	}, nil
}

func (a *app) Close() {
	a.session.RecentEvents().Close()
	a.repo.Close()
	a.db.Close()
}

// withApp opens the app around fn
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

// resolveDay accepts a YYYY-MM-DD key or "today"
func (a *app) resolveDay(arg string) (string, error) {
	if arg == "" || arg == "today" {
		return a.store.TodayKey(), nil
	}
	if err := models.ValidateDayKey(arg); err != nil {
		return "", fmt.Errorf("%q: %w", arg, err)
	}
	return arg, nil
}
