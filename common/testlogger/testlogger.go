// Package testlogger builds loggers scoped to a single test.
package testlogger

import (
	"os"
	"testing"

	"github.com/drand/ordering/common/log"
)

// Level reads the level of test loggers from ORDERING_TEST_LOGS, info by
// default.
func Level(t testing.TB) int {
	level := log.LevelFromString(os.Getenv("ORDERING_TEST_LOGS"), log.InfoLevel)
	if level == log.DebugLevel {
		t.Log("Enabling DebugLevel logs")
	}
	return level
}

// New returns a JSON logger tagged with the name of the test.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), true).With("testName", t.Name())
}
