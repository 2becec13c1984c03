package logging

import (
	"github.com/rollbar/rollbar-go"
	"github.com/sirupsen/logrus"
)

// RollbarHook forwards error-level entries to Rollbar.
type RollbarHook struct{}

var _ logrus.Hook = (*RollbarHook)(nil)

func NewRollbarHook(token, env string) *RollbarHook {
	if env == "" {
		env = "DEV"
	}
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	return &RollbarHook{}
}

func (h *RollbarHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel}
}

func (h *RollbarHook) Fire(entry *logrus.Entry) error {
	extras := make(map[string]interface{}, len(entry.Data))
	var cause error
	for k, v := range entry.Data {
		if err, ok := v.(error); ok && k == logrus.ErrorKey {
			cause = err
			continue
		}
		extras[k] = v
	}

	args := []interface{}{entry.Message, extras}
	if cause != nil {
		args = append(args, cause)
	}
	if entry.Level == logrus.ErrorLevel {
		rollbar.Error(args...)
	} else {
		rollbar.Critical(args...)
	}
	return nil
}

func (h *RollbarHook) Wait() { rollbar.Wait() }
