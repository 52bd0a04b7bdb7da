package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

// WithComponent tags ctx so log entries created with log.WithContext carry a component field.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ctxKey{}, component)
}

// InitLog parses and sets log-level input. A logPath of "" or "console"
// keeps logging on stderr; anything else is a rotated file.
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != "console" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return err
		}
		lumberjackLogger := &lumberjack.Logger{
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	log.SetFormatter(&Formatter{TextFormatter: log.TextFormatter{FullTimestamp: true}})
	log.SetLevel(level)
	return nil
}

// Formatter adds the component recorded on the entry context.
type Formatter struct {
	log.TextFormatter
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context != nil {
		if component, ok := entry.Context.Value(ctxKey{}).(string); ok {
			entry.Data["component"] = component
		}
	}
	return f.TextFormatter.Format(entry)
}
