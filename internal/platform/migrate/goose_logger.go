package migrate

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// gooseSlogLogger adapts goose's Printf-style logger to slog.
type gooseSlogLogger struct {
	logger *slog.Logger
}

func (l gooseSlogLogger) Printf(format string, v ...any) {
	if l.logger == nil {
		return
	}
	// goose terminates its messages with a newline.
	l.logger.Info(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

func (l gooseSlogLogger) Fatalf(format string, v ...any) {
	if l.logger != nil {
		l.logger.Error(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
	}
	os.Exit(1)
}
