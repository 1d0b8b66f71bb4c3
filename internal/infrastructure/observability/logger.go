package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log output formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// InitLogger builds the process logger. Unknown levels fall back to info and
// unknown formats to JSON.
func InitLogger(level, format string, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}
	if strings.EqualFold(format, LogFormatConsole) {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		if strings.EqualFold(level, "warning") {
			return zerolog.WarnLevel
		}
		return zerolog.InfoLevel
	}
	return lvl
}
