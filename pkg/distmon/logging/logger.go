// Package logging provides the default types.Logger implementation used
// when a caller does not supply its own.
package logging

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/distmon/distmon/pkg/distmon/types"
)

// New builds the default Logger, writing leveled, structured lines to
// stderr via log/slog's text handler.
func New() types.Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogLogger{logger: slog.New(handler), level: level}
}

// slogLogger adapts *slog.Logger to the types.Logger interface. v ...
// values are formatted with fmt.Sprint/fmt.Sprintf before being handed to
// slog, since Logger's print/printf shape predates structured fields.
type slogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

func (l *slogLogger) Info(v ...interface{})                  { l.logger.Info(fmt.Sprint(v...)) }
func (l *slogLogger) Infof(format string, v ...interface{})  { l.logger.Info(fmt.Sprintf(format, v...)) }
func (l *slogLogger) Warn(v ...interface{})                  { l.logger.Warn(fmt.Sprint(v...)) }
func (l *slogLogger) Warnf(format string, v ...interface{})  { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l *slogLogger) Error(v ...interface{})                 { l.logger.Error(fmt.Sprint(v...)) }
func (l *slogLogger) Errorf(format string, v ...interface{}) { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l *slogLogger) Debug(v ...interface{})                 { l.logger.Debug(fmt.Sprint(v...)) }
func (l *slogLogger) Debugf(format string, v ...interface{}) { l.logger.Debug(fmt.Sprintf(format, v...)) }

func (l *slogLogger) Fatal(v ...interface{}) {
	l.logger.Error(fmt.Sprint(v...))
	os.Exit(1)
}

func (l *slogLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (l *slogLogger) Panic(v ...interface{}) {
	msg := fmt.Sprint(v...)
	l.logger.Error(msg)
	panic(msg)
}

func (l *slogLogger) Panicf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.logger.Error(msg)
	panic(msg)
}

func (l *slogLogger) ToggleDebug(enabled bool) bool {
	if enabled {
		l.level.Set(slog.LevelDebug)
	} else {
		l.level.Set(slog.LevelInfo)
	}
	return enabled
}

func (l *slogLogger) WithField(key string, value interface{}) types.Logger {
	return &slogLogger{logger: l.logger.With(key, value), level: l.level}
}
