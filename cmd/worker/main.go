package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/nikitkaralius/curatorbot/internal/app"
	"github.com/nikitkaralius/curatorbot/internal/config"
	"github.com/nikitkaralius/curatorbot/internal/jobs"
	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/telegram"
)

func main() {
	envDir := flag.String("env-dir", ".", "Directory with .env files")
	migrate := flag.Bool("migrate", false, "Apply river migrations before starting")
	maxWorkers := flag.Int("max-workers", 100, "Max concurrent jobs")
	flag.Parse()

	cfg, err := config.Load(*envDir)
	if err != nil {
		logging.Log.Fatal(err)
	}
	logging.BootstrapLogger(logging.Options{
		Level:        cfg.LogLevel,
		Verbose:      cfg.LogVerbose,
		Env:          cfg.Env,
		RollbarToken: cfg.RollbarToken,
	})
	defer logging.Flush()

	if cfg.BotToken == "" {
		logging.Log.Fatal("BOT_TOKEN is required")
	}
	if cfg.DatabaseDSN == "" {
		logging.Log.Fatal("POSTGRES_DSN is required")
	}
	if err := cfg.Validate(); err != nil {
		logging.Log.Fatal(err)
	}

	ctx := context.Background()

	docs, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logging.Log.Fatal(err)
	}
	defer docs.Close()

	// Init Telegram bot for posting results from workers
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logging.Log.Fatal(err)
	}

	a, err := app.New(ctx, cfg, docs, bot)
	if err != nil {
		logging.Log.Fatal(err)
	}

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logging.Log.Fatalf("failed to create db pool: %v", err)
	}
	defer dbPool.Close()

	if *migrate {
		migrator, err := rivermigrate.New(riverpgxv5.New(dbPool), nil)
		if err != nil {
			logging.Log.Fatalf("failed to create river migrator: %v", err)
		}
		res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
		if err != nil {
			logging.Log.Fatalf("failed to migrate river: %v", err)
		}
		logging.Log.Infof("WORKER: applied %d river migrations", len(res.Versions))
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewClosePollWorker(a.Polls))
	river.AddWorker(workers, jobs.NewRemindQuestionWorker(telegram.NewQuestionReminder(bot, a.Registry, a.Board)))

	riverClient, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: *maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		logging.Log.Fatalf("failed to create river client: %v", err)
	}

	if err := riverClient.Start(ctx); err != nil {
		logging.Log.Fatalf("failed to start river client: %v", err)
	}

	logging.Log.Info("Successfully started worker")

	sigintOrTerm := make(chan os.Signal, 1)
	signal.Notify(sigintOrTerm, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigintOrTerm
		logging.Log.Info("Received SIGINT/SIGTERM; initiating soft stop (try to wait for jobs to finish)")

		softStopCtx, softStopCtxCancel := context.WithTimeout(ctx, 10*time.Second)
		defer softStopCtxCancel()

		go func() {
			select {
			case <-sigintOrTerm:
				logging.Log.Info("Received SIGINT/SIGTERM again; initiating hard stop (cancel everything)")
				softStopCtxCancel()
			case <-softStopCtx.Done():
				logging.Log.Info("Soft stop timeout; initiating hard stop (cancel everything)")
			}
		}()

		err := riverClient.Stop(softStopCtx)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			logging.Log.Panic(err)
		}
		if err == nil {
			logging.Log.Info("Soft stop succeeded")
			return
		}

		hardStopCtx, hardStopCtxCancel := context.WithTimeout(ctx, 10*time.Second)
		defer hardStopCtxCancel()

		// Jobs only block here if they ignore cancellation.
		err = riverClient.StopAndCancel(hardStopCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			logging.Log.Warn("Hard stop timeout; ignoring stop procedure and exiting unsafely")
		} else if err != nil {
			logging.Log.Panic(err)
		}
	}()

	<-riverClient.Stopped()
}
