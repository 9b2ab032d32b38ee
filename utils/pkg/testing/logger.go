// Package validationtesting holds shared test helpers.
package validationtesting

import (
	"log/slog"
	"os"

	"github.com/MinaFoundation/uptime-service-validation/utils/pkg/logger"
)

// NewLogger returns a debug-level logger for tests. Set TEST_QUIET=1 to
// silence it.
func NewLogger() *slog.Logger {
	if os.Getenv("TEST_QUIET") == "1" {
		return slog.New(slog.DiscardHandler)
	}
	return logger.NewWithWriter(os.Stdout, true)
}
