package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/MinaFoundation/uptime-service-validation/internal/auditor"
	"github.com/MinaFoundation/uptime-service-validation/internal/epoch"
	"github.com/MinaFoundation/uptime-service-validation/internal/ledger"
	"github.com/MinaFoundation/uptime-service-validation/internal/metrics"
	"github.com/MinaFoundation/uptime-service-validation/internal/notify"
	"github.com/MinaFoundation/uptime-service-validation/internal/payout"
	"github.com/MinaFoundation/uptime-service-validation/internal/scheduler"
	"github.com/MinaFoundation/uptime-service-validation/internal/scoring"
	"github.com/MinaFoundation/uptime-service-validation/internal/server"
	"github.com/MinaFoundation/uptime-service-validation/internal/store"
	"github.com/MinaFoundation/uptime-service-validation/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
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
	migrateFlag := flag.Bool("migrate", false, "Run pending database migrations before starting")

	archiveEndpointFlag := flag.String("archive-endpoint", "", "Mina archive GraphQL endpoint (or set ARCHIVE_ENDPOINT env var)")
	archiveRateFlag := flag.Float64("archive-requests-per-sec", 5, "Archive request rate limit")

	genesisFlag := flag.String("genesis-time", "", "Network genesis timestamp, RFC3339 (or set GENESIS_TIMESTAMP env var)")
	slotDurationFlag := flag.Duration("slot-duration", epoch.DefaultSlotDuration, "Slot duration")
	slotsPerEpochFlag := flag.Uint64("slots-per-epoch", epoch.DefaultSlotsPerEpoch, "Slots per epoch")

	retentionFlag := flag.Float64("retention-fraction", payout.DefaultRetentionFraction, "Fraction of rewards producers keep")
	graceSlotsFlag := flag.Uint64("grace-slots", payout.DefaultGraceSlots, "Slot offset past the epoch boundary before records are final")
	memoHashFlag := flag.String("memo-hash-algorithm", "sha256", "Memo hash algorithm for matching")

	catchUpOffsetFlag := flag.Duration("catch-up-offset", scheduler.DefaultCatchUpOffset, "How long past an epoch boundary validation becomes due")
	retryDelayFlag := flag.Duration("retry-delay", scheduler.DefaultRetryDelay, "Delay before retrying a failed or deferred run")
	tickIntervalFlag := flag.Duration("tick-interval", scheduler.DefaultTickInterval, "Scheduler tick interval")
	lockStalenessFlag := flag.Duration("lock-staleness", scheduler.DefaultLockStaleness, "Age after which a run lock is reclaimable")
	maxFailuresFlag := flag.Int("max-failures-per-epoch", scheduler.DefaultMaxFailuresPerEpoch, "Failed runs per epoch before escalating")

	windowDaysFlag := flag.Int("score-window-days", scoring.DefaultWindowDays, "Rolling compliance window in days")
	concurrencyFlag := flag.Int("producer-concurrency", auditor.DefaultConcurrency, "Concurrent per-producer ledger reads")

	listenAddrFlag := flag.String("listen-addr", server.DefaultListenAddr, "HTTP listen address for the read-only API")
	metricsAddrFlag := flag.String("metrics-addr", "0.0.0.0:2112", "Prometheus metrics listen address (empty to disable)")

	slackWebhookFlag := flag.String("slack-webhook-url", "", "Slack incoming webhook for run outcomes (or set SLACK_WEBHOOK_URL env var)")
	slackChannelFlag := flag.String("slack-channel", "", "Slack channel override for the webhook")
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN for fatal escalations (or set SENTRY_DSN env var)")

	flag.Parse()

	if *envFileFlag != "" {
		if err := godotenv.Load(*envFileFlag); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
		}
	}

	log := logger.New(*verboseFlag)
	log.Info("starting delegation payout validation coordinator",
		"version", version, "commit", commit, "date", date)

	// Environment variables override unset flags.
	if v := os.Getenv("DATABASE_URL"); v != "" && *databaseURLFlag == "" {
		*databaseURLFlag = v
	}
	if v := os.Getenv("ARCHIVE_ENDPOINT"); v != "" && *archiveEndpointFlag == "" {
		*archiveEndpointFlag = v
	}
	if v := os.Getenv("GENESIS_TIMESTAMP"); v != "" && *genesisFlag == "" {
		*genesisFlag = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" && *slackWebhookFlag == "" {
		*slackWebhookFlag = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" && *sentryDSNFlag == "" {
		*sentryDSNFlag = v
	}
	if v := os.Getenv("SLOTS_PER_EPOCH"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SLOTS_PER_EPOCH: %w", err)
		}
		*slotsPerEpochFlag = n
	}

	if *databaseURLFlag == "" {
		return fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	if *archiveEndpointFlag == "" {
		return fmt.Errorf("--archive-endpoint or ARCHIVE_ENDPOINT is required")
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
	if err := epochClock.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Metrics server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	if *migrateFlag {
		if err := store.RunMigrations(log, *databaseURLFlag); err != nil {
			return err
		}
	}

	pool, err := store.NewPool(ctx, *databaseURLFlag)
	if err != nil {
		return err
	}
	defer pool.Close()

	st, err := store.New(store.Config{Logger: log, Pool: pool})
	if err != nil {
		return err
	}

	archive, err := ledger.NewArchiveClient(ledger.ArchiveClientConfig{
		Logger:         log,
		Endpoint:       *archiveEndpointFlag,
		EpochClock:     epochClock,
		RequestsPerSec: *archiveRateFlag,
	})
	if err != nil {
		return err
	}

	hasher, err := payout.NewMemoHasher(*memoHashFlag)
	if err != nil {
		return err
	}

	logSink, err := notify.NewLogSink(log)
	if err != nil {
		return err
	}
	sinks := notify.Multi{logSink}
	if *slackWebhookFlag != "" {
		slackSink, err := notify.NewSlackSink(notify.SlackSinkConfig{
			Logger:     log,
			WebhookURL: *slackWebhookFlag,
			Channel:    *slackChannelFlag,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, slackSink)
		log.Info("slack notifications enabled")
	}
	if *sentryDSNFlag != "" {
		sentrySink, err := notify.NewSentrySink(*sentryDSNFlag, version)
		if err != nil {
			return err
		}
		sinks = append(sinks, sentrySink)
		log.Info("sentry escalation enabled")
	}

	aud, err := auditor.New(auditor.Config{
		Logger: log,
		Store:  st,
		Ledger: archive,
		Calculator: &payout.Calculator{
			EpochClock:        epochClock,
			RetentionFraction: *retentionFlag,
			GraceSlots:        *graceSlotsFlag,
		},
		Matcher:      payout.NewMatcher(hasher),
		Notifier:     sinks,
		WindowEpochs: scoring.WindowEpochs(*windowDaysFlag, epochClock.EpochDuration()),
		Concurrency:  *concurrencyFlag,
	})
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Config{
		Logger:              log,
		Store:               st,
		Runner:              aud,
		EpochClock:          epochClock,
		Alerter:             sinks,
		CatchUpOffset:       *catchUpOffsetFlag,
		RetryDelay:          *retryDelayFlag,
		TickInterval:        *tickIntervalFlag,
		LockStaleness:       *lockStalenessFlag,
		MaxFailuresPerEpoch: *maxFailuresFlag,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:     log,
		Store:      st,
		ListenAddr: *listenAddrFlag,
		Version:    version,
		Commit:     commit,
		Date:       date,
	})
	if err != nil {
		return err
	}

	sched.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	if err := group.Wait(); err != nil {
		return err
	}

	log.Info("coordinator stopped")
	return nil
}
