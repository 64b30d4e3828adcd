package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	nuts "github.com/vaudience/go-nuts"

	"github.com/afladry360/telemetry/internal/config"
	"github.com/afladry360/telemetry/internal/ledger"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/metrics"
	"github.com/afladry360/telemetry/internal/services/reconcile"
	"github.com/afladry360/telemetry/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "telemetry",
	Short:        "Grain dryer telemetry ingestion and ledger reconciliation",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		nuts.InitVersion()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(nuts.GetVersion())
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Forward unarchived readings to the ledger once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.Default()
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, err := store.Open(cmd.Context(), cfg.StoreConfig(), log)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		opts := cfg.ReconcileOptions()
		opts.Store, opts.Ledger, opts.Logger, opts.Metrics = st, newLedger(cfg, log), log, metrics.New()
		engine := reconcile.NewEngine(opts)
		report, err := engine.ReconcileAll(cmd.Context())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

func migrateRunE(action func(st *store.SQLStore, driver string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := logging.Default()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		sc := cfg.StoreConfig()
		sc.AutoMigrate = false
		st, err := store.Open(cmd.Context(), sc, log)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()
		return action(st, sc.Driver)
	}
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: migrateRunE(func(st *store.SQLStore, driver string) error {
		if err := store.MigrateUp(st.DB().DB, driver); err != nil {
			return err
		}
		fmt.Println("Migrations applied")
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: migrateRunE(func(st *store.SQLStore, driver string) error {
		if err := store.MigrateDown(st.DB().DB, driver); err != nil {
			return err
		}
		fmt.Println("Migrations rolled back")
		return nil
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	RunE: migrateRunE(func(st *store.SQLStore, driver string) error {
		current, latest, dirty, err := store.MigrationStatus(st.DB().DB, driver)
		if err != nil {
			return err
		}
		fmt.Printf("Driver:  %s\n", driver)
		fmt.Printf("Current: %d\n", current)
		fmt.Printf("Latest:  %d\n", latest)
		if dirty {
			fmt.Println("State:   dirty (a previous migration failed)")
		}
		return nil
	}),
}

func newLedger(cfg *config.Config, log logging.Logger) ledger.Ledger {
	if cfg.Ledger.Type == config.LedgerMemory {
		log.Warnf("[Main] using the in-memory ledger, archived chunks are lost on exit")
		return ledger.NewMemoryLedger()
	}
	return ledger.NewHTTPLedger(cfg.LedgerHTTPConfig(), log)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(serveCmd, reconcileCmd, migrateCmd, versionCmd)
}
