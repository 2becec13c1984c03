package app

import (
	"context"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitkaralius/curatorbot/internal/config"
	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/storage"
)

type nopSender struct{}

func (nopSender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) { return tgbotapi.Message{}, nil }

func (nopSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	docs, err := OpenStore(ctx, &config.Config{Storage: config.StorageFile, DataDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &storage.File{}, docs)
	require.NoError(t, docs.Close())

	docs, err = OpenStore(ctx, &config.Config{Storage: config.StorageStorm, StormPath: filepath.Join(dir, "bot.db")})
	require.NoError(t, err)
	assert.IsType(t, &storage.Storm{}, docs)
	require.NoError(t, docs.Close())
}

func TestNewSeedsGroups(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Storage: config.StorageFile, DataDir: t.TempDir(), AdminID: 7}
	docs, err := OpenStore(ctx, cfg)
	require.NoError(t, err)

	a, err := New(ctx, cfg, docs, nopSender{})
	require.NoError(t, err)

	groups, err := a.Registry.Groups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, len(members.DefaultGroups))

	ok, err := a.Registry.IsCurator(ctx, 7, groups[0].Key)
	require.NoError(t, err)
	assert.True(t, ok, "admin curates every group")
}
