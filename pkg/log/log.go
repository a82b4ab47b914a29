package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the root logger of claimd; Init replaces it
var Logger zerolog.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level is the log level named in the configuration file
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config is the log section of the claimd configuration
type Config struct {
	Level      Level     `yaml:"level"`
	JSONOutput bool      `yaml:"json"`
	Output     io.Writer `yaml:"-"`
}

// Init sets the global level and rebuilds Logger. Unknown levels fall back
// to info; output defaults to stdout.
func Init(cfg Config) {
	level, ok := levels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger for one claimd component, such as
// the assigner or the checker
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTask adds a task's RADB id and its OTDB and MoM ids
func WithTask(l zerolog.Logger, taskID, otdbID, momID int) zerolog.Logger {
	return l.With().Int("task_id", taskID).Int("otdb_id", otdbID).Int("mom_id", momID).Logger()
}

// WithResourceID adds the id of a catalog resource
func WithResourceID(l zerolog.Logger, resourceID int) zerolog.Logger {
	return l.With().Int("resource_id", resourceID).Logger()
}
