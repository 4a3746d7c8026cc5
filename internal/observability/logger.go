package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerConfig configures the global logger
type LoggerConfig struct {
	Level string
	// File receives JSON records in addition to the console when set
	File string
	// Console defaults to stderr so stdout stays free for command output
	Console io.Writer
	// Pretty enables the human-readable console format
	Pretty bool
}

// InitLogger initializes the global logger. The returned func closes the log
// file, if one was opened.
func InitLogger(cfg LoggerConfig) func() error {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	writers := []io.Writer{console}
	closer := func() error { return nil }

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			// Logger is not ready yet
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, using console only\n", cfg.File, err)
		} else {
			writers = append(writers, file)
			closer = file.Close
		}
	}

	// Unlike io.MultiWriter, the file gets plain JSON even when the console
	// is pretty-printed
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	logLevel := parseLogLevel(cfg.Level)
	zerolog.SetGlobalLevel(logLevel)

	log.Info().
		Str("level", logLevel.String()).
		Str("file", cfg.File).
		Msg("Logger initialized")

	return closer
}

// parseLogLevel parses a string log level to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
