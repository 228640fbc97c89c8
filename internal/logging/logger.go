package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level        string
	LogstashAddr string
	Service      string
	Output       io.Writer
}

// New builds the process logger: JSON records on stdout, mirrored to
// Logstash when an address is configured. The returned closer releases the
// Logstash connection.
func New(opts Options) (*slog.Logger, io.Closer) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	if strings.TrimSpace(opts.LogstashAddr) != "" {
		if w, err := NewLogstashWriter(opts.LogstashAddr); err == nil {
			out = io.MultiWriter(out, w)
			closer = w
		} else {
			log.Printf("logstash disabled: %v", err)
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger, closer
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
