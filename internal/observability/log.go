// Package observability sets up the structured logger every other package
// receives as a constructor argument, the same discipline the teacher
// threads a logging.Logger through every reconciler with (e.g.
// managed.WithLogger in the crossplane controller Setup functions).
package observability

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a JSON-formatted logrus logger at the given level.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log
}
