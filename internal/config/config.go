package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageStorm    = "storm"

	SchedulerTimer = "timer"
	SchedulerRiver = "river"
)

// Config holds environment configuration
type Config struct {
	Env        string
	BotToken   string
	AdminID    int64
	LogLevel   string
	LogVerbose bool

	Storage     string
	DataDir     string
	DatabaseDSN string
	StormPath   string
	Scheduler   string

	HTTPAddr       string
	DashboardToken string
	WebhookURL     string
	RollbarToken   string
}

// Load reads settings from the environment, after loading .env (and
// .env.<env>) from dir when present.
func Load(dir string) (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	for _, name := range []string{".env." + strings.ToLower(env), ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, errors.Wrapf(err, "config: load %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "config: stat %s", path)
		}
	}

	v := viper.New()
	v.SetDefault("ENV", env)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_VERBOSE", false)
	v.SetDefault("STORAGE", StorageFile)
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("STORM_PATH", filepath.Join("data", "curatorbot.db"))
	v.SetDefault("SCHEDULER", SchedulerTimer)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.AutomaticEnv()

	cfg := &Config{
		Env:            strings.ToUpper(v.GetString("ENV")),
		BotToken:       v.GetString("BOT_TOKEN"),
		AdminID:        v.GetInt64("ADMIN_ID"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogVerbose:     v.GetBool("LOG_VERBOSE"),
		Storage:        strings.ToLower(v.GetString("STORAGE")),
		DataDir:        v.GetString("DATA_DIR"),
		DatabaseDSN:    v.GetString("POSTGRES_DSN"),
		StormPath:      v.GetString("STORM_PATH"),
		Scheduler:      strings.ToLower(v.GetString("SCHEDULER")),
		HTTPAddr:       v.GetString("HTTP_ADDR"),
		DashboardToken: v.GetString("DASHBOARD_TOKEN"),
		WebhookURL:     v.GetString("WEBHOOK_URL"),
		RollbarToken:   v.GetString("ROLLBAR_TOKEN"),
	}
	return cfg, nil
}

// Validate checks the storage and scheduler settings. The bot token is
// checked by the binaries that need it.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageFile:
		if c.DataDir == "" {
			return errors.New("DATA_DIR is required for file storage")
		}
	case StoragePostgres:
		if c.DatabaseDSN == "" {
			return errors.New("POSTGRES_DSN is required for postgres storage")
		}
	case StorageStorm:
		if c.StormPath == "" {
			return errors.New("STORM_PATH is required for storm storage")
		}
	default:
		return errors.Errorf("unknown STORAGE %q", c.Storage)
	}

	switch c.Scheduler {
	case SchedulerTimer:
	case SchedulerRiver:
		if c.DatabaseDSN == "" {
			return errors.New("POSTGRES_DSN is required for the river scheduler")
		}
		// The worker runs in its own process and needs a store it can
		// share with the bot.
		if c.Storage != StoragePostgres {
			return errors.Errorf("the river scheduler needs STORAGE=postgres, got %q", c.Storage)
		}
	default:
		return errors.Errorf("unknown SCHEDULER %q", c.Scheduler)
	}
	return nil
}
