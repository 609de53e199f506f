// Package logging configures logrus for the mechanism programs.
package logging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/liric/liric_interface/mecherr"
	"github.com/sirupsen/logrus"
)

// Instrument verbosity levels, as used by the -l flag of the command line
// tools, mapped onto logrus levels.
var verbosity = []logrus.Level{
	logrus.WarnLevel,  // 0, quiet
	logrus.InfoLevel,  // 1, very terse
	logrus.InfoLevel,  // 2, terse
	logrus.DebugLevel, // 3, intermediate
	logrus.DebugLevel, // 4, verbose
	logrus.TraceLevel, // 5, very verbose
}

var names = map[string]logrus.Level{
	"very_terse":   logrus.InfoLevel,
	"terse":        logrus.InfoLevel,
	"intermediate": logrus.DebugLevel,
	"verbose":      logrus.DebugLevel,
	"very_verbose": logrus.TraceLevel,
}

// ParseLevel accepts a logrus level name, an instrument verbosity name such
// as "VERBOSE", or a verbosity number from 0 to 5.
func ParseLevel(s string) (logrus.Level, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(verbosity) {
			return 0, fmt.Errorf("log level %d not in 0..%d", n, len(verbosity)-1)
		}
		return verbosity[n], nil
	}
	if l, ok := names[strings.ToLower(s)]; ok {
		return l, nil
	}
	return logrus.ParseLevel(s)
}

// Setup sets the level and format of the standard logger.
func Setup(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(l)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// Reporter returns an error sink that logs each failure with its code.
func Reporter(log logrus.FieldLogger) mecherr.ReportFunc {
	return func(code mecherr.Code, msg string) {
		log.WithFields(logrus.Fields{
			"code":  int(code),
			"error": code.String(),
		}).Error(msg)
	}
}
