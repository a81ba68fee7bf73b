package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"carrental-backend/internal/app"
	"carrental-backend/internal/config"
	"carrental-backend/internal/jobs"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/refund"
	"carrental-backend/internal/scheduler"
)

const drainTimeout = 2 * time.Minute

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cronjob",
		Short: "Scheduled jobs of the car rental backend",
		Long: `Runs the booking expiry sweeper, the no-show job and the stalled
refund retry, either on their cron schedules or once.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.dev.yaml", "Path to configuration file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runOnceCmd())
	rootCmd.AddCommand(listCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run all jobs on their cron schedules until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, db, err := setup(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			defer application.Close()

			workerCtx, stopWorkers := context.WithCancel(context.Background())
			application.Start(workerCtx)

			cronScheduler, err := scheduler.NewScheduler(application.JobRunner())
			if err != nil {
				stopWorkers()
				return err
			}
			cronScheduler.Start()
			logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

			<-ctx.Done()

			logger.Info("Shutting down cronjob scheduler...")
			cronScheduler.Stop()
			stopWorkers()
			application.Wait()
			logger.Info("Cronjob scheduler stopped. Goodbye!")
			return nil
		},
	}
}

func runOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once <job>",
		Short: "Run one job, or all of them, and exit",
		Long:  "Available jobs: " + strings.Join(jobs.JobNames(), ", ") + ", all",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, db, err := setup(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			defer application.Close()

			workerCtx, stopWorkers := context.WithCancel(context.Background())
			application.Start(workerCtx)
			defer func() {
				drain(ctx, application.RefundQueue)
				stopWorkers()
				application.Wait()
			}()

			runner := application.JobRunner()
			name := args[0]
			logger.Info("Running job once", "job", name)
			if name == "all" {
				runner.RunAll(ctx)
				return nil
			}
			res, err := runner.Run(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", name, res)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available jobs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range jobs.JobNames() {
				fmt.Println(name)
			}
		},
	}
}

func setup(ctx context.Context) (*app.App, *sql.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Car Rental Cronjob Runner...", "log_level", cfg.Log.Level)

	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	application, err := app.New(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if cfg.Refunds.Queue == "memory" {
		logger.Warn("Refund queue is in memory; refunds re-dispatched by this runner are processed here")
	}
	return application, db, nil
}

// drain waits until an in-memory refund queue is empty so a one-shot run
// does not drop the tasks it dispatched. Tasks still waiting for a retry
// are picked up again by the next retry-stalled-refunds run.
func drain(ctx context.Context, q refund.Queue) {
	mem, ok := q.(*refund.MemoryQueue)
	if !ok {
		return
	}
	deadline := time.Now().Add(drainTimeout)
	for mem.Len() > 0 && time.Now().Before(deadline) && ctx.Err() == nil {
		time.Sleep(200 * time.Millisecond)
	}
}
