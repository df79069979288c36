// Package logging is the log sink shared by the server, the client links and
// the event-bus transports.
package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs used by flowrpc.
type LogFields map[string]any

// ServiceLogger mirrors watermill.LoggerAdapter with flowrpc field types, so a
// logger handed to NewService also serves the event-bus transports.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

var slogLevels = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger logs through log.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("flowrpc: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, slogLevels))
}

// NewWatermillServiceLogger logs through an existing watermill adapter. An
// adapter obtained from NewWatermillAdapter is unwrapped to its ServiceLogger.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("flowrpc: watermill logger cannot be nil")
	}
	if b, ok := logger.(*transportBridge); ok {
		return b.log
	}
	return &serviceBridge{inner: logger}
}

// NewNopLogger discards everything. Clients use it when no logger is given.
func NewNopLogger() ServiceLogger {
	return &serviceBridge{inner: watermill.NopLogger{}}
}

// OrNop returns log, or a discarding logger when log is nil.
func OrNop(log ServiceLogger) ServiceLogger {
	if log == nil {
		return NewNopLogger()
	}
	return log
}

// NewWatermillAdapter hands log to the event-bus transports. A logger built on
// a watermill adapter gives that adapter back.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("flowrpc: ServiceLogger cannot be nil")
	}
	if b, ok := log.(*serviceBridge); ok {
		return b.inner
	}
	return &transportBridge{log: log}
}

// serviceBridge is a ServiceLogger on top of a watermill adapter.
type serviceBridge struct {
	inner watermill.LoggerAdapter
}

func (b *serviceBridge) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return b
	}
	return &serviceBridge{inner: b.inner.With(watermill.LogFields(fields))}
}

func (b *serviceBridge) Debug(msg string, fields LogFields) {
	b.inner.Debug(msg, toWatermillFields(fields))
}

func (b *serviceBridge) Info(msg string, fields LogFields) {
	b.inner.Info(msg, toWatermillFields(fields))
}

func (b *serviceBridge) Error(msg string, err error, fields LogFields) {
	b.inner.Error(msg, err, toWatermillFields(fields))
}

func (b *serviceBridge) Trace(msg string, fields LogFields) {
	b.inner.Trace(msg, toWatermillFields(fields))
}

// transportBridge is a watermill adapter on top of a ServiceLogger.
type transportBridge struct {
	log ServiceLogger
}

func (b *transportBridge) With(fields watermill.LogFields) watermill.LoggerAdapter {
	if len(fields) == 0 {
		return b
	}
	return &transportBridge{log: b.log.With(LogFields(fields))}
}

func (b *transportBridge) Debug(msg string, fields watermill.LogFields) {
	b.log.Debug(msg, fromWatermillFields(fields))
}

func (b *transportBridge) Info(msg string, fields watermill.LogFields) {
	b.log.Info(msg, fromWatermillFields(fields))
}

func (b *transportBridge) Error(msg string, err error, fields watermill.LogFields) {
	b.log.Error(msg, err, fromWatermillFields(fields))
}

func (b *transportBridge) Trace(msg string, fields watermill.LogFields) {
	b.log.Trace(msg, fromWatermillFields(fields))
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}
