package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

type Options struct {
	Level        string
	Verbose      bool
	Env          string
	RollbarToken string
}

// BootstrapLogger configures the package logger. An unknown level falls back to info.
func BootstrapLogger(opts Options) {
	Log = &logrus.Logger{
		Out:   os.Stdout,
		Hooks: make(logrus.LevelHooks),
		Formatter: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
		Level:    logrus.InfoLevel,
		ExitFunc: os.Exit,
	}

	if lvl, err := logrus.ParseLevel(opts.Level); err == nil {
		Log.SetLevel(lvl)
	}
	if opts.Verbose {
		Log.SetLevel(logrus.DebugLevel)
		Log.SetReportCaller(true)
	}
	if opts.RollbarToken != "" {
		Log.AddHook(NewRollbarHook(opts.RollbarToken, opts.Env))
	}
}

// Flush waits for pending error reports.
func Flush() {
	for _, hooks := range Log.Hooks {
		for _, h := range hooks {
			if rh, ok := h.(*RollbarHook); ok {
				rh.Wait()
				return
			}
		}
	}
}
