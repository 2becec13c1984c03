package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/nikitkaralius/curatorbot/internal/app"
	"github.com/nikitkaralius/curatorbot/internal/async"
	"github.com/nikitkaralius/curatorbot/internal/config"
	"github.com/nikitkaralius/curatorbot/internal/dashboard"
	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/telegram"
)

func must(err error) {
	if err != nil {
		logging.Log.Fatal(err)
	}
}

func main() {
	envDir := flag.String("env-dir", ".", "Directory with .env files")
	flag.Parse()

	cfg, err := config.Load(*envDir)
	must(err)
	logging.BootstrapLogger(logging.Options{
		Level:        cfg.LogLevel,
		Verbose:      cfg.LogVerbose,
		Env:          cfg.Env,
		RollbarToken: cfg.RollbarToken,
	})
	defer logging.Flush()

	must(cfg.Validate())
	if cfg.BotToken == "" {
		logging.Log.Fatal("BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := app.OpenStore(ctx, cfg)
	must(err)
	defer docs.Close()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	must(err)
	api.Debug = cfg.LogVerbose
	logging.Log.Infof("Authorized on account @%s", api.Self.UserName)

	a, err := app.New(ctx, cfg, docs, api)
	must(err)

	bot := telegram.NewBot(api, a.Registry, a.Polls, a.Board, a.Notifier)

	switch cfg.Scheduler {
	case config.SchedulerRiver:
		// Insert-only client; close jobs are worked by cmd/worker.
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
		must(err)
		defer dbPool.Close()
		riverClient, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{})
		must(err)
		sched := async.NewRiverScheduler(riverClient)
		a.Polls.SetScheduler(sched)
		bot.SetReminders(sched)
		logging.Log.Info("POLL: closing polls through river jobs")
	default:
		timers := async.NewTimerScheduler(a.Polls)
		defer timers.Stop()
		a.Polls.SetScheduler(timers)
		n, err := a.Polls.Resume(ctx)
		if err != nil {
			logging.Log.Errorf("POLL: resume: %v", err)
		}
		logging.Log.Infof("POLL: re-armed %d close timers", n)

		timers.SetReminder(bot.Reminder())
		bot.SetReminders(timers)
		n, err = bot.Reminder().Resume(ctx, timers)
		if err != nil {
			logging.Log.Errorf("BOARD: resume reminders: %v", err)
		}
		logging.Log.Infof("BOARD: re-armed %d question reminders", n)
	}

	if cfg.DashboardToken == "" {
		logging.Log.Warn("DASHBOARD: DASHBOARD_TOKEN is not set, API routes are disabled")
	}
	router := chi.NewRouter()
	router.Mount("/", dashboard.New(a.Registry, a.Polls, a.Board, cfg.DashboardToken, cfg.AdminID).Router())

	var updates tgbotapi.UpdatesChannel
	if cfg.WebhookURL != "" {
		pushed := make(chan tgbotapi.Update, api.Buffer)
		router.Post(telegram.WebhookPath, telegram.WebhookHandler(pushed))
		wh, err := tgbotapi.NewWebhook(cfg.WebhookURL + telegram.WebhookPath)
		must(err)
		_, err = api.Request(wh)
		must(err)
		if info, err := api.GetWebhookInfo(); err == nil {
			logging.Log.Infof("Webhook set: pending updates: %d", info.PendingUpdateCount)
		}
		updates = pushed
	} else {
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logging.Log.Warnf("delete webhook: %v", err)
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates = api.GetUpdatesChan(u)
		defer api.StopReceivingUpdates()
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		logging.Log.Infof("Dashboard listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Log.Fatalf("http server error: %v", err)
		}
	}()

	bot.Run(ctx, updates)

	logging.Log.Info("Shutting down...")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
}
