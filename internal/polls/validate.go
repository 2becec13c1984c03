package polls

import (
	"strconv"
	"strings"
)

const (
	DefaultDuration = 10
	MinDuration     = 1
	MaxDuration     = 60
)

// ParseDuration reads a curator's duration reply: empty input means the
// default, anything else must be whole minutes in [MinDuration, MaxDuration].
func ParseDuration(text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultDuration, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, NewValidationError("duration", "must be a whole number of minutes")
	}
	if err := ValidateDuration(n); err != nil {
		return 0, err
	}
	return n, nil
}

func ValidateDuration(minutes int) error {
	if minutes < MinDuration || minutes > MaxDuration {
		return NewValidationError("duration", "must be between 1 and 60 minutes")
	}
	return nil
}
