package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/billsync/internal/adapter/export/zuora"
	postgresRepo "github.com/iho/billsync/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/billsync/internal/adapter/repository/redis"
	"github.com/iho/billsync/internal/domain"
	"github.com/iho/billsync/internal/infrastructure/config"
	"github.com/iho/billsync/internal/infrastructure/logger"
	"github.com/iho/billsync/internal/infrastructure/metrics"
	"github.com/iho/billsync/internal/infrastructure/ops"
	"github.com/iho/billsync/internal/infrastructure/postgres"
	"github.com/iho/billsync/internal/infrastructure/redis"
	"github.com/iho/billsync/internal/usecase"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "billsync",
		Short: "Billing export reconciliation",
		Long:  `Reconciles billing export records into normalized invoices and writes them to the revenue-analytics ledger.`,
	}

	rootCmd.AddCommand(newSyncCmd(), newConsoleCmd(), newMigrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSyncCmd() *cobra.Command {
	var serveOps bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full export-reconcile-write cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()
			log.Info().Msg("connected to postgres")

			m := metrics.New()

			var checkpoints usecase.CheckpointStore
			var redisClient *redislib.Client
			if cfg.RedisURL != "" {
				redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
				if err != nil {
					return fmt.Errorf("connect to redis: %w", err)
				}
				defer redisClient.Close()
				log.Info().Msg("connected to redis")
				checkpoints = redisRepo.NewCheckpointStore(redisClient, m)
			}

			if serveOps {
				server := ops.NewServer(cfg, pool, redisClient)
				go func() {
					log.Info().Str("port", cfg.HTTPPort).Msg("starting ops server")
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error().Err(err).Msg("ops server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
					defer cancel()
					if err := server.Shutdown(shutdownCtx); err != nil {
						log.Error().Err(err).Msg("ops server forced to shutdown")
					}
				}()
			}

			client := zuora.NewClient(zuora.Config{
				BaseURL:      cfg.ExportBaseURL,
				Username:     cfg.ExportUsername,
				Password:     cfg.ExportPassword,
				PollInterval: cfg.ExportPollInterval,
				MaxWait:      cfg.ExportMaxWait,
				RetryMax:     cfg.ExportRetryMax,
			}, log, m)

			retrier := postgresRepo.NewRetrier(log)
			ledger := postgresRepo.NewLedgerRepository(pool, retrier, m)

			syncUC := buildSyncUseCase(cfg, log, m, zuora.NewLoader(client), ledger, checkpoints)

			report, err := syncUC.Run(ctx)
			if err != nil {
				return err
			}
			for _, accErr := range report.Errors {
				log.Error().Str("account", accErr.AccountID).Err(accErr.Err).Msg("account failed")
			}
			if report.AccountsFailed > 0 {
				return fmt.Errorf("%d of %d accounts failed", report.AccountsFailed, report.AccountsTotal)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&serveOps, "serve-ops", true, "serve health and metrics endpoints during the run")
	return cmd
}

func newConsoleCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Reconcile one account and print the result without writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			if accountID == "" {
				return fmt.Errorf("--account is required")
			}
			cfg.IncludeAccounts = accountID
			cfg.SyncWorkers = 1

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := zuora.NewClient(zuora.Config{
				BaseURL:      cfg.ExportBaseURL,
				Username:     cfg.ExportUsername,
				Password:     cfg.ExportPassword,
				PollInterval: cfg.ExportPollInterval,
				MaxWait:      cfg.ExportMaxWait,
				RetryMax:     cfg.ExportRetryMax,
			}, log, nil)

			ledger := &printingLedger{out: os.Stdout}
			syncUC := buildSyncUseCase(cfg, log, nil, zuora.NewLoader(client), ledger, nil)

			report, err := syncUC.Run(ctx)
			if err != nil {
				return err
			}
			for _, accErr := range report.Errors {
				log.Error().Str("account", accErr.AccountID).Err(accErr.Err).Msg("account failed")
			}
			log.Info().Int("synced", report.AccountsSynced).Msg("console run finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id to reconcile")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := bootstrap()
				if err != nil {
					return err
				}
				return postgres.RunMigrations(cfg.DatabaseURL, log)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := bootstrap()
				if err != nil {
					return err
				}
				return postgres.RunMigrationsDown(cfg.DatabaseURL, log)
			},
		},
	)
	return cmd
}

func bootstrap() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load configuration: %w", err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, log, nil
}

func buildSyncUseCase(
	cfg *config.Config,
	log zerolog.Logger,
	m *metrics.Metrics,
	loader usecase.ExportLoader,
	ledger usecase.LedgerStore,
	checkpoints usecase.CheckpointStore,
) *usecase.SyncUseCase {
	tables := usecase.DefaultTables()
	builder := usecase.NewBuilder(tables, usecase.DefaultPolicies(), log)
	refunds := usecase.NewPendingRefunds(postgresRepo.NewULIDGenerator(), log)
	reconciler := usecase.NewReconcileUseCase(builder, refunds, log)

	return usecase.NewSyncUseCase(loader, ledger, checkpoints, reconciler, tables, m, log, usecase.SyncConfig{
		Workers:         cfg.SyncWorkers,
		CheckpointTTL:   cfg.CheckpointTTL,
		IncludeAccounts: config.SplitList(cfg.IncludeAccounts),
		ExcludeAccounts: config.SplitList(cfg.ExcludeAccounts),
		ExcludeInvoices: config.SplitList(cfg.ExcludeInvoices),
	})
}

// printingLedger implements usecase.LedgerStore by dumping the reconciled
// invoices to stdout as JSON. Ids are derived from external ids so repeated
// runs print identical output.
type printingLedger struct {
	out *os.File
}

func (p *printingLedger) UpsertPlans(ctx context.Context, plans []domain.Plan) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(plans))
	for _, plan := range plans {
		ids[plan.ExternalID] = uuid.NewSHA1(uuid.NameSpaceOID, []byte("plan:"+plan.ExternalID))
	}
	return ids, nil
}

func (p *printingLedger) UpsertCustomers(ctx context.Context, customers []domain.Customer) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(customers))
	for _, c := range customers {
		ids[c.AccountID] = uuid.NewSHA1(uuid.NameSpaceOID, []byte("customer:"+c.AccountID))
	}
	return ids, nil
}

func (p *printingLedger) InsertInvoices(ctx context.Context, customerID uuid.UUID, invoices []*domain.Invoice) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"customer_id": customerID,
		"invoices":    invoices,
	})
}
