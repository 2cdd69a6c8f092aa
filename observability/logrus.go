package observability

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogrusOptions configures NewLogrus.
type LogrusOptions struct {
	Level      string // DEBUG, INFO, WARN or ERROR
	Timestamps bool
	JSON       bool
	Output     io.Writer
}

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus returns a Logger backed by logrus. Every entry carries app=KytePDF.
func NewLogrus(opts LogrusOptions) Logger {
	l := logrus.New()
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	}
	l.SetLevel(ParseLevel(opts.Level))
	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: !opts.Timestamps})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: !opts.Timestamps,
			FullTimestamp:    opts.Timestamps,
		})
	}
	return &logrusLogger{entry: logrus.NewEntry(l).WithField("app", "KytePDF")}
}

// FromLogrus wraps an existing logrus logger.
func FromLogrus(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// ParseLevel maps the toolkit level names onto logrus levels. Unknown names mean INFO.
func ParseLevel(level string) logrus.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *logrusLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields ...Field)  { l.with(fields).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }

func (l *logrusLogger) With(fields ...Field) Logger {
	return &logrusLogger{entry: l.with(fields)}
}

func (l *logrusLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		lf[f.Key()] = f.Value()
	}
	return l.entry.WithFields(lf)
}
