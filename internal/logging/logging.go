package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// New builds a logger writing to out (stdout when nil) in json or text
// format at the given level.
func New(format, level string, out io.Writer) (*log.Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	logger := log.New()
	logger.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info", "":
		logger.SetLevel(log.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		return nil, errors.Errorf("unsupported log level %q", level)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "":
		logger.SetFormatter(&log.JSONFormatter{})
	case "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "discard":
		logger.SetOutput(io.Discard)
	default:
		return nil, errors.Errorf("unsupported log format %q", format)
	}
	return logger, nil
}
