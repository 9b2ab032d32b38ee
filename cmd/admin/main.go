package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/MinaFoundation/uptime-service-validation/internal/admin"
	"github.com/MinaFoundation/uptime-service-validation/internal/epoch"
	"github.com/MinaFoundation/uptime-service-validation/internal/store"
	"github.com/MinaFoundation/uptime-service-validation/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", "", "Optional .env file to load before reading environment variables")

	databaseURLFlag := flag.String("database-url", "", "Postgres connection string (or set DATABASE_URL env var)")

	genesisFlag := flag.String("genesis-time", "", "Network genesis timestamp, RFC3339 (or set GENESIS_TIMESTAMP env var)")
	slotDurationFlag := flag.Duration("slot-duration", epoch.DefaultSlotDuration, "Slot duration")
	slotsPerEpochFlag := flag.Uint64("slots-per-epoch", epoch.DefaultSlotsPerEpoch, "Slots per epoch")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Run pending database migrations")
	migrateDownFlag := flag.Bool("migrate-down", false, "Roll back the most recent database migration")
	migrateStatusFlag := flag.Bool("migrate-status", false, "Show database migration status")

	initCheckpointFlag := flag.Bool("init-checkpoint", false, "Seed the schedule checkpoint")
	nextEpochFlag := flag.Uint64("next-epoch", 0, "Epoch the seeded checkpoint points at")
	dueAtFlag := flag.String("due-at", "", "When the seeded checkpoint becomes due, RFC3339 (default: now)")
	dueMinsAgoFlag := flag.Int("due-mins-ago", 0, "Alternative to --due-at: due this many minutes in the past")
	overrideFlag := flag.Bool("override", false, "Replace an existing checkpoint")

	importProducersFlag := flag.String("import-producers", "", "Import the producer registry from a CSV file")
	listProducersFlag := flag.Bool("list-producers", false, "Print the producer registry")

	forceFailFlag := flag.Bool("force-fail-runs", false, "Fail all running validation runs and release run locks")
	reasonFlag := flag.String("reason", "", "Reason recorded with --force-fail-runs")

	flag.Parse()

	if *envFileFlag != "" {
		if err := godotenv.Load(*envFileFlag); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
		}
	}

	log := logger.New(*verboseFlag)

	if v := os.Getenv("DATABASE_URL"); v != "" && *databaseURLFlag == "" {
		*databaseURLFlag = v
	}
	if v := os.Getenv("GENESIS_TIMESTAMP"); v != "" && *genesisFlag == "" {
		*genesisFlag = v
	}
	if *databaseURLFlag == "" {
		return fmt.Errorf("--database-url or DATABASE_URL is required")
	}

	// Migration commands work without an epoch clock.
	if *migrateFlag {
		return store.RunMigrations(log, *databaseURLFlag)
	}
	if *migrateDownFlag {
		return store.RollbackMigration(log, *databaseURLFlag)
	}
	if *migrateStatusFlag {
		return store.MigrationStatus(log, *databaseURLFlag)
	}

	if *genesisFlag == "" {
		return fmt.Errorf("--genesis-time or GENESIS_TIMESTAMP is required")
	}
	genesis, err := time.Parse(time.RFC3339, *genesisFlag)
	if err != nil {
		return fmt.Errorf("invalid genesis time: %w", err)
	}
	epochClock := epoch.Clock{
		Genesis:       genesis,
		SlotDuration:  *slotDurationFlag,
		SlotsPerEpoch: *slotsPerEpochFlag,
	}

	ctx := context.Background()
	pool, err := store.NewPool(ctx, *databaseURLFlag)
	if err != nil {
		return err
	}
	defer pool.Close()

	st, err := store.New(store.Config{Logger: log, Pool: pool})
	if err != nil {
		return err
	}
	adm, err := admin.New(admin.Config{
		Logger:     log,
		Store:      st,
		EpochClock: epochClock,
	})
	if err != nil {
		return err
	}

	switch {
	case *initCheckpointFlag:
		var dueAt time.Time
		if *dueAtFlag != "" && *dueMinsAgoFlag != 0 {
			return fmt.Errorf("--due-at and --due-mins-ago are mutually exclusive")
		}
		if *dueAtFlag != "" {
			dueAt, err = time.Parse(time.RFC3339, *dueAtFlag)
			if err != nil {
				return fmt.Errorf("invalid --due-at: %w", err)
			}
		}
		if *dueMinsAgoFlag != 0 {
			dueAt = time.Now().Add(-time.Duration(*dueMinsAgoFlag) * time.Minute)
		}
		return adm.SeedCheckpoint(ctx, *nextEpochFlag, dueAt, *overrideFlag)

	case *importProducersFlag != "":
		f, err := os.Open(*importProducersFlag)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", *importProducersFlag, err)
		}
		defer f.Close()
		n, err := adm.ImportProducers(ctx, f)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d producers\n", n)
		return nil

	case *listProducersFlag:
		return adm.ListProducers(ctx, os.Stdout)

	case *forceFailFlag:
		return adm.ForceFailRuns(ctx, *reasonFlag)
	}

	flag.Usage()
	return fmt.Errorf("no command given")
}
