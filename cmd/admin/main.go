package main

import (
	"os"

	"github.com/nikitkaralius/curatorbot/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Flush()
		os.Exit(1)
	}
	logging.Flush()
}
