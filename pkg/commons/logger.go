// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package commons

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logger used across the service. The keyed
// variants (Infow, Errorw, ...) and the plain variants (Info, Error, ...)
// both accept alternating key/value pairs after the message.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	// With returns a child logger with the given key/value pairs attached
	// to every subsequent line. Used to scope a logger to a call.
	With(keysAndValues ...interface{}) Logger

	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewApplicationLogger builds the process-wide logger. Console output always;
// rotated file output when LOG_FILE is set. LOG_LEVEL selects the minimum
// level (debug/info/warn/error, default info).
func NewApplicationLogger() (Logger, error) {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCallerSkip(1))
	return &zapLogger{sugar: zl.Sugar()}, nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) Debugf(template string, args ...interface{}) { l.sugar.Debugf(template, args...) }
func (l *zapLogger) Infof(template string, args ...interface{})  { l.sugar.Infof(template, args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})  { l.sugar.Warnf(template, args...) }
func (l *zapLogger) Errorf(template string, args ...interface{}) { l.sugar.Errorf(template, args...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}

func (l *zapLogger) Sync() error { return l.sugar.Sync() }
