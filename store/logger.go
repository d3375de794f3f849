// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowStatement is the duration above which a statement is reported as a warning.
const slowStatement = 200 * time.Millisecond

// statementLogger reports the caption store statements through zerolog.
type statementLogger struct {
	log zerolog.Logger
}

var _ gormlogger.Interface = statementLogger{}

func newStatementLogger(parent zerolog.Logger) statementLogger {
	return statementLogger{log: parent.With().Str("component", "caption_store").Logger()}
}

// LogMode maps the gorm levels onto the zerolog ones. Levels more verbose
// than Info enable the statement traces, logged at debug level.
func (l statementLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	var zl zerolog.Level
	switch {
	case level <= gormlogger.Silent:
		zl = zerolog.Disabled
	case level == gormlogger.Error:
		zl = zerolog.ErrorLevel
	case level == gormlogger.Warn:
		zl = zerolog.WarnLevel
	case level == gormlogger.Info:
		zl = zerolog.InfoLevel
	default:
		zl = zerolog.DebugLevel
	}
	return statementLogger{log: l.log.Level(zl)}
}

func (l statementLogger) Info(_ context.Context, msg string, data ...interface{}) {
	l.log.Info().Msgf(msg, data...)
}

func (l statementLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	l.log.Warn().Msgf(msg, data...)
}

func (l statementLogger) Error(_ context.Context, msg string, data ...interface{}) {
	l.log.Error().Msgf(msg, data...)
}

// Trace reports a statement: failures as errors, slow statements as
// warnings and everything else at debug level. A lookup that finds no
// caption is not a failure.
func (l statementLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	var e *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		e = l.log.Err(err)
	case elapsed > slowStatement:
		e = l.log.Warn().Bool("slow", true)
	default:
		e = l.log.Debug()
	}
	if !e.Enabled() {
		return
	}
	statement, rows := fc()
	e.Str("statement", statement).Int64("rows_affected", rows).Dur("elapsed", elapsed).Msg("caption store statement")
}
