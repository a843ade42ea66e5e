package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"flow-observer/src/models"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// -----------------------------------------------------------------------------

// Fields is attached to every line emitted through a derived logger.
type Fields map[string]interface{}

// Logger provides structured logging functionality
type Logger struct {
	name  string
	base  *logrus.Logger
	entry *logrus.Entry
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance. config may be nil, in which case
// the LOG_LEVEL environment variable and stdout text output are used.
func NewLogger(config *models.MConfig, name string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	level, format, file, maxAge := "", "text", "", 0
	if config != nil {
		level, format, file, maxAge = config.LogLevel, config.LogFormat, config.LogFile, config.LogMaxAgeDays
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}

	base.SetLevel(parseLevel(level))
	base.SetFormatter(newFormatter(format))
	base.SetOutput(newOutput(file, maxAge))

	return &Logger{
		name:  name,
		base:  base,
		entry: base.WithField("component", name),
	}
}

// -----------------------------------------------------------------------------

// Named derives a logger for a sub-component sharing the same sink.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		name:  name,
		base:  l.base,
		entry: l.entry.WithField("component", name),
	}
}

// -----------------------------------------------------------------------------

// WithFields derives a logger that adds fields to every line.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{
		name:  l.name,
		base:  l.base,
		entry: l.entry.WithFields(logrus.Fields(fields)),
	}
}

// -----------------------------------------------------------------------------

// Name returns the component name.
func (l *Logger) Name() string {
	return l.name
}

// -----------------------------------------------------------------------------

// IsDebug reports whether debug lines are emitted.
func (l *Logger) IsDebug() bool {
	return l.base.IsLevelEnabled(logrus.DebugLevel)
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debug(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.entry.Warn(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Info(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Error(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.entry.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// -----------------------------------------------------------------------------

// SetOutput redirects the shared sink (used by tests).
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// -----------------------------------------------------------------------------

func parseLevel(level string) logrus.Level {
	if lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		return lvl
	}
	return logrus.InfoLevel
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	}
}

func newOutput(file string, maxAge int) io.Writer {
	switch file {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename: file,
		MaxAge:   maxAge,
		MaxSize:  100,
		Compress: true,
	}
}
