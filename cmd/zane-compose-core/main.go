// Command zane-compose-core is the Compose Stack Core's binary. Its root
// command has three subcommands: `serve` runs the chi HTTP API, `worker` runs
// the Temporal worker, and `migrate` applies the database migrations and
// exits. `serve` and `worker` each wire configuration, the Postgres pool, the
// Docker Swarm client, and a Temporal client before running until terminated.
//
// Grounded on shinji-kodama-worktree-container's cmd/ + spf13/cobra
// root-command wiring style (SPEC_FULL.md §2 "Package layout") — the teacher
// repo ships no cmd/ of its own (library-only Crossplane provider).
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"

	"github.com/zaneops/compose-core/internal/api"
	"github.com/zaneops/compose-core/internal/cloner"
	"github.com/zaneops/compose-core/internal/config"
	"github.com/zaneops/compose-core/internal/gitprovider"
	"github.com/zaneops/compose-core/internal/ledger"
	"github.com/zaneops/compose-core/internal/logstore"
	"github.com/zaneops/compose-core/internal/monitor"
	"github.com/zaneops/compose-core/internal/observability"
	"github.com/zaneops/compose-core/internal/orchestrator"
	"github.com/zaneops/compose-core/internal/proxy"
	"github.com/zaneops/compose-core/internal/semaphore"
	"github.com/zaneops/compose-core/internal/store"
	"github.com/zaneops/compose-core/internal/workflow"
)

func main() {
	root := &cobra.Command{
		Use:   "zane-compose-core",
		Short: "Compose Stack Core: ingest, deploy, and monitor multi-service compose stacks",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newMigrateCmd())

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runMigrations(cfg)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "run the Temporal worker for deploy/archive/monitor/metrics workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func loadEverything() (*config.Config, *logrus.Logger, *store.Store, orchestrator.Client, proxy.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	logger := observability.NewLogger(os.Getenv("LOG_LEVEL"))

	if err := runMigrations(cfg); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	s := store.New(pool)

	dockerCli, err := orchestrator.NewClient(cfg)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	orch := orchestrator.NewDockerClient(dockerCli)
	px := proxy.New(cfg.CaddyProxyAdminHost)

	return cfg, logger, s, orch, px, nil
}

// runServe wires the Change Ledger, Environment Cloner, Monitor/Toggle, and
// the deploy/archive workflow starters behind the chi router, and serves
// the HTTP API until interrupted.
func runServe() error {
	cfg, logger, s, orch, px, err := loadEverything()
	if err != nil {
		return err
	}

	temporalClient, err := workflow.NewClient(cfg)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	sem := semaphore.New(s.Pool, cfg.TemporalMaxConcurrentDeploys)
	starter := workflow.NewStarter(temporalClient, cfg.TemporalTaskQueue, sem)
	scheduler := monitor.NewScheduler(temporalClient, cfg.TemporalTaskQueue, cfg)

	l := ledger.New(s, cfg.RootDomain, starter, px)

	var commenter cloner.PRCommenter
	if token := os.Getenv("GITHUB_APP_TOKEN"); token != "" {
		commenter = gitprovider.New("", token)
	}
	envCloner := cloner.New(s, cfg.RootDomain, l, commenter)

	srv := api.New(s, l, envCloner, orch, starter, starter, scheduler, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("serving HTTP API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	return waitForShutdown(httpServer, errCh, logger)
}

// runWorker wires the same collaborators behind a Temporal worker process,
// kept as a separate binary mode so the HTTP surface and the workflow
// executors can be scaled independently (SPEC_FULL.md §5 "multiple
// independent OS-level workers").
func runWorker() error {
	cfg, logger, s, orch, px, err := loadEverything()
	if err != nil {
		return err
	}

	temporalClient, err := workflow.NewClient(cfg)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	scheduler := monitor.NewScheduler(temporalClient, cfg.TemporalTaskQueue, cfg)
	logs := logstore.New(cfg.LokiHost)
	sem := semaphore.New(s.Pool, cfg.TemporalMaxConcurrentDeploys)
	activities := workflow.NewActivities(orch, px, scheduler, logs, s, sem, logger)

	w := workflow.NewWorker(temporalClient, cfg, activities)
	w.RegisterWorkflow(monitor.MonitorWorkflow)
	w.RegisterWorkflow(monitor.MetricsWorkflow)
	w.RegisterActivity(monitor.NewActivities(orch, s, logger))
	logger.WithField("task_queue", cfg.TemporalTaskQueue).Info("starting temporal worker")

	return w.Run(worker.InterruptCh())
}

func waitForShutdown(httpServer *http.Server, errCh chan error, logger *logrus.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP API")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runMigrations applies every embedded SQL migration, mirroring the
// teacher's pattern of doing all setup in main before entering the
// reconcile loop (SPEC_FULL.md §3 "Persistence").
func runMigrations(cfg *config.Config) error {
	src, err := iofs.New(store.Migrations, "migrations")
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
