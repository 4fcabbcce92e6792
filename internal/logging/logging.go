package logging

import (
	"io"
	"os"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/sirupsen/logrus"
)

// Init configures the shared logrus logger from the loaded configuration.
func Init() {
	InitTo(os.Stderr)
}

// InitTo is like Init but writes to out. The worker process uses it to keep
// stdout free for the protocol.
func InitTo(out io.Writer) {
	logrus.SetOutput(out)

	level, err := logrus.ParseLevel(config.GetString(config.LOG_LEVEL, "info"))
	if err != nil {
		logrus.Warnf("invalid log level, falling back to info: %v", err)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch config.GetString(config.LOG_FORMAT, "text") {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
