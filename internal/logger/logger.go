// Package logger provides the small structured-logging surface the rest of
// the module calls into. It wraps logrus so callers never import it
// directly, the way the teacher's internal/logger wraps its own backend.
package logger

import (
	"github.com/sirupsen/logrus"
)

// Logger is the subset of logging calls used across the engine.
type Logger interface {
	Debugln(args ...interface{})
	Debugf(format string, args ...interface{})
	Infoln(args ...interface{})
	Infof(format string, args ...interface{})
	Warningln(args ...interface{})
	Warningf(format string, args ...interface{})
	Errorln(args ...interface{})
	Error(err error)
	WithField(key string, value interface{}) Logger
}

type logger struct {
	entry *logrus.Entry
}

// New returns a Logger tagged with name, e.g. a torrent's short info-hash
// prefix or "peer <- 1.2.3.4:6881".
func New(name string) Logger {
	return &logger{entry: logrus.WithField("tag", name)}
}

func (l *logger) Debugln(args ...interface{})                 { l.entry.Debugln(args...) }
func (l *logger) Debugf(format string, args ...interface{})   { l.entry.Debugf(format, args...) }
func (l *logger) Infoln(args ...interface{})                  { l.entry.Infoln(args...) }
func (l *logger) Infof(format string, args ...interface{})    { l.entry.Infof(format, args...) }
func (l *logger) Warningln(args ...interface{})               { l.entry.Warningln(args...) }
func (l *logger) Warningf(format string, args ...interface{}) { l.entry.Warningf(format, args...) }
func (l *logger) Errorln(args ...interface{})                 { l.entry.Errorln(args...) }
func (l *logger) Error(err error) {
	if err == nil {
		return
	}
	l.entry.Errorln(err.Error())
}

func (l *logger) WithField(key string, value interface{}) Logger {
	return &logger{entry: l.entry.WithField(key, value)}
}
