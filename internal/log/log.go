package log

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		setLevel(level)
	}
}

// Configure applies the configured level and output format. Unknown levels
// keep the current one; format is "text" or "json".
func Configure(level, format string) {
	if level != "" {
		setLevel(level)
	}
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func setLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Unknown log level '%s', keeping %s", level, logger.GetLevel())
		return
	}
	logger.SetLevel(lvl)
}

// GetLogger returns the shared logger instance
func GetLogger() *logrus.Logger {
	return logger
}
