// Package log routes third-party library logging through logrus.
package log

import (
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var _ badger.Logger = (*BadgerLogger)(nil)

// BadgerLogger implements badger.Logger on top of a logrus entry.
// Badger's info chatter (compactions, value log replay) is demoted to debug.
type BadgerLogger struct {
	entry *logrus.Entry
}

// NewBadgerLogger creates a new adapter tagged with component=badgerdb
func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry: entry.WithField("component", "badgerdb")}
}

// Badger terminates its messages with a newline; logrus adds its own.
func trim(f string) string { return strings.TrimRight(f, "\n") }

// Errorf logs an error message
func (l *BadgerLogger) Errorf(f string, v ...any) { l.entry.Errorf(trim(f), v...) }

// Warningf logs a warning message
func (l *BadgerLogger) Warningf(f string, v ...any) { l.entry.Warnf(trim(f), v...) }

// Infof logs at debug level
func (l *BadgerLogger) Infof(f string, v ...any) { l.entry.Debugf(trim(f), v...) }

// Debugf logs a debug message
func (l *BadgerLogger) Debugf(f string, v ...any) { l.entry.Debugf(trim(f), v...) }
