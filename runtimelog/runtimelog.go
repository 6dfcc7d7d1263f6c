// Package runtimelog adapts eve/common's ContextLogger pattern for the
// entity runtime: a small, immutable, field-carrying wrapper around a
// logrus.Logger that every entity, manager, and passivation sweeper holds
// onto for the lifetime of the process.
package runtimelog

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Logger is a structured logger pre-loaded with a set of fields. It is
// immutable; With* methods return a new Logger sharing the underlying
// logrus.Logger.
type Logger struct {
	base   *logrus.Logger
	fields logrus.Fields
}

// New wraps base (or a fresh logrus.Logger at info level if base is nil)
// with no fields set.
func New(base *logrus.Logger) *Logger {
	if base == nil {
		base = logrus.New()
	}
	return &Logger{base: base, fields: logrus.Fields{}}
}

// WithField returns a copy of l with key=value added to its field set.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	next := make(logrus.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		next[k] = v
	}
	next[key] = value
	return &Logger{base: l.base, fields: next}
}

// WithFields returns a copy of l with all of fields merged in.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	next := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		next[k] = v
	}
	for k, v := range fields {
		next[k] = v
	}
	return &Logger{base: l.base, fields: next}
}

// WithError returns a copy of l with the error's message attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) entry() *logrus.Entry { return l.base.WithFields(l.fields) }

func (l *Logger) Debug(msg string) { l.entry().Debug(msg) }
func (l *Logger) Info(msg string)  { l.entry().Info(msg) }
func (l *Logger) Warn(msg string)  { l.entry().Warn(msg) }
func (l *Logger) Error(msg string) { l.entry().Error(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry().Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry().Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry().Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry().Errorf(format, args...) }

// LogDuration logs how long an operation took, in a humanized form, the way
// eve/common.LogDuration does for HTTP/DB call sites.
func LogDuration(l *Logger, operation string, start time.Time) {
	elapsed := time.Since(start)
	l.WithFields(map[string]interface{}{
		"operation": operation,
		"duration":  humanize.RelTime(start, time.Now(), "", ""),
		"ms":        elapsed.Milliseconds(),
	}).Debug(fmt.Sprintf("%s completed", operation))
}
