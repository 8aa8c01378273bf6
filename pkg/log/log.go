package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool

	// Dir enables file output with daily rotation when non-empty.
	Dir string

	// CompressAfter is the age past which rotated files are gzipped
	// (default 7 days). Files older than twice this age are deleted.
	CompressAfter time.Duration

	// NoConsole suppresses console output entirely. Used in GUI-host
	// environments without a real stdout.
	NoConsole bool

	// Output overrides the console writer (tests).
	Output io.Writer
}

var fileWriter *RotatingWriter

// Init initializes the global logger
func Init(cfg Config) error {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	var writers []io.Writer

	if !cfg.NoConsole {
		console := cfg.Output
		if console == nil {
			console = os.Stdout
		}
		if cfg.JSONOutput {
			writers = append(writers, console)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        console,
				TimeFormat: time.RFC3339,
			})
		}
	}

	if cfg.Dir != "" {
		compressAfter := cfg.CompressAfter
		if compressAfter <= 0 {
			compressAfter = 7 * 24 * time.Hour
		}
		rw, err := NewRotatingWriter(cfg.Dir, compressAfter)
		if err != nil {
			return err
		}
		fileWriter = rw
		writers = append(writers, rw)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// Close flushes and closes the file writer if one is open.
func Close() error {
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// WithComponent creates a child logger with component field
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// WithModuleID creates a child logger with module_id field
func WithModuleID(moduleID string) *zerolog.Logger {
	l := Logger.With().Str("module_id", moduleID).Logger()
	return &l
}

// WithUser creates a child logger with user field
func WithUser(user string) *zerolog.Logger {
	l := Logger.With().Str("user", user).Logger()
	return &l
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
