package app

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/board"
	"github.com/nikitkaralius/curatorbot/internal/config"
	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/polls"
	"github.com/nikitkaralius/curatorbot/internal/storage"
	"github.com/nikitkaralius/curatorbot/internal/telegram"
)

// App holds the components shared by the bot, the worker and the admin CLI.
type App struct {
	Docs     storage.Documents
	Registry *members.Registry
	Polls    *polls.Service
	Board    *board.Board
	Notifier *telegram.Notifier
}

// OpenStore opens the document backend selected by STORAGE.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Documents, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		store, err := storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := storage.WaitForDB(ctx, store.DB); err != nil {
			store.Close()
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, errors.Wrap(err, "migrate documents table")
		}
		logging.Log.Info("STORAGE: using postgres")
		return store, nil
	case config.StorageStorm:
		store, err := storage.OpenStorm(cfg.StormPath)
		if err != nil {
			return nil, err
		}
		logging.Log.Infof("STORAGE: using storm at %s", cfg.StormPath)
		return store, nil
	default:
		store, err := storage.NewFile(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logging.Log.Infof("STORAGE: using json files in %s", cfg.DataDir)
		return store, nil
	}
}

// New seeds the registry and wires the poll service to Telegram. The close
// scheduler is left to the caller.
func New(ctx context.Context, cfg *config.Config, docs storage.Documents, api telegram.Sender) (*App, error) {
	registry := members.NewRegistry(docs, cfg.AdminID)
	if err := registry.Seed(ctx); err != nil {
		return nil, errors.Wrap(err, "seed groups")
	}
	notifier := telegram.NewNotifier(api, registry)
	return &App{
		Docs:     docs,
		Registry: registry,
		Polls:    polls.NewService(polls.NewManager(docs), registry, notifier),
		Board:    board.New(docs),
		Notifier: notifier,
	}, nil
}
