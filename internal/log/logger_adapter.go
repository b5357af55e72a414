package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"firestige.xyz/trapd/internal/config"
)

const (
	defaultPattern    = "%time [%level] %msg %field%n"
	defaultTimeLayout = "2006-01-02 15:04:05.000"
)

type logrusAdapter struct {
	entry *logrus.Entry
	close func() error
}

// Init replaces the process-wide logger according to cfg. It may be
// called again, e.g. on reload; the previous file output is closed.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	out := NewMultiWriter().Add(os.Stdout)
	var closer func() error
	if cfg.File.Enabled {
		fw, err := newFileAppender(cfg.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		out.Add(fw)
		closer = fw.Close
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: defaultTimeLayout})
	case "text", "":
		l.SetFormatter(patternFormatter(cfg.Pattern))
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	a := newAdapter(l)
	a.close = closer
	if prev := current.Swap(a); prev != nil && prev.close != nil {
		_ = prev.close()
	}
	return nil
}

// SetLevel changes the level of the current logger in place.
func SetLevel(level string) error {
	lv, err := parseLevel(level)
	if err != nil {
		return err
	}
	current.Load().entry.Logger.SetLevel(lv)
	return nil
}

// Close releases the file output of the current logger, if any.
func Close() error {
	a := current.Load()
	if a.close == nil {
		return nil
	}
	err := a.close()
	a.close = nil
	return err
}

func parseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level: %q", level)
	}
}

func patternFormatter(pattern string) *formatter {
	if pattern == "" {
		pattern = defaultPattern
	}
	return &formatter{pattern: pattern, time: defaultTimeLayout}
}

func newLogrus(pattern, level string, w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(patternFormatter(pattern))
	lv, err := parseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.SetLevel(lv)
	return l
}

func newAdapter(l *logrus.Logger) *logrusAdapter {
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Panic(args ...interface{})                 { l.entry.Panic(args...) }
func (l *logrusAdapter) Panicf(format string, args ...interface{}) { l.entry.Panicf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l *logrusAdapter) IsInfoEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
}
