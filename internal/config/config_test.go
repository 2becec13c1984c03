package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("STORAGE", "")
	t.Setenv("SCHEDULER", "")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "DEV", cfg.Env)
	assert.Equal(t, StorageFile, cfg.Storage)
	assert.Equal(t, SchedulerTimer, cfg.Scheduler)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENV", "test")
	// godotenv does not override variables that are already set.
	t.Setenv("ADMIN_ID", "")
	os.Unsetenv("ADMIN_ID")
	t.Setenv("BOT_TOKEN", "")
	os.Unsetenv("BOT_TOKEN")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.test"), []byte("BOT_TOKEN=abc\nADMIN_ID=42\n"), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "TEST", cfg.Env)
	assert.Equal(t, "abc", cfg.BotToken)
	assert.Equal(t, int64(42), cfg.AdminID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "file", cfg: Config{Storage: StorageFile, DataDir: "d", Scheduler: SchedulerTimer}},
		{name: "postgres without dsn", cfg: Config{Storage: StoragePostgres, Scheduler: SchedulerTimer}, wantErr: "POSTGRES_DSN is required for postgres storage"},
		{name: "river without dsn", cfg: Config{Storage: StorageFile, DataDir: "d", Scheduler: SchedulerRiver}, wantErr: "POSTGRES_DSN is required for the river scheduler"},
		{name: "river with postgres", cfg: Config{Storage: StoragePostgres, DatabaseDSN: "postgres://x", Scheduler: SchedulerRiver}},
		{name: "river with file storage", cfg: Config{Storage: StorageFile, DataDir: "d", DatabaseDSN: "postgres://x", Scheduler: SchedulerRiver}, wantErr: `the river scheduler needs STORAGE=postgres, got "file"`},
		{name: "river with storm", cfg: Config{Storage: StorageStorm, StormPath: "x.db", DatabaseDSN: "postgres://x", Scheduler: SchedulerRiver}, wantErr: `the river scheduler needs STORAGE=postgres, got "storm"`},
		{name: "storm", cfg: Config{Storage: StorageStorm, StormPath: "x.db", Scheduler: SchedulerTimer}},
		{name: "unknown storage", cfg: Config{Storage: "redis", Scheduler: SchedulerTimer}, wantErr: `unknown STORAGE "redis"`},
		{name: "unknown scheduler", cfg: Config{Storage: StorageFile, DataDir: "d", Scheduler: "cron"}, wantErr: `unknown SCHEDULER "cron"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
