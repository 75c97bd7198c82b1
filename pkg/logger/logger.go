// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	LogContainer     = logContainer{level: zap.NewAtomicLevelAt(zapcore.InfoLevel), file: &fileSink{}}
	loggerInit       sync.Once
	simpleLoggerInit sync.Once
)

type logContainer struct {
	logger       *zap.Logger
	simpleLogger *zap.SugaredLogger
	level        zap.AtomicLevel
	file         *fileSink
}

// fileSink lets the JSON core be created before the log file is known.
// Writes are dropped until a file is attached.
type fileSink struct {
	m sync.Mutex
	w io.WriteCloser
}

func (f *fileSink) Write(b []byte) (int, error) {
	f.m.Lock()
	defer f.m.Unlock()
	if f.w == nil {
		return len(b), nil
	}
	return f.w.Write(b)
}

func (f *fileSink) Sync() error {
	f.m.Lock()
	defer f.m.Unlock()
	if s, ok := f.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (f *fileSink) attach(w io.WriteCloser) {
	f.m.Lock()
	defer f.m.Unlock()
	if f.w != nil {
		f.w.Close()
	}
	f.w = w
}

// GetLogger returns the pointer to the logger and creates one if none exists
func (l *logContainer) GetLogger() *zap.Logger {
	loggerInit.Do(func() {
		l.logger = zap.New(l.getCombinedCore())
	})
	return l.logger
}

// GetSimpleLogger returns the pointer to the sugared logger and creates one
// if none exists
func (l *logContainer) GetSimpleLogger() *zap.SugaredLogger {
	simpleLoggerInit.Do(func() {
		logger := zap.New(l.getCombinedCore())
		l.simpleLogger = logger.Sugar()
	})
	return l.simpleLogger
}

// SetLevel changes the level of every logger handed out so far.
func (l *logContainer) SetLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %v", level, err)
	}
	l.level.SetLevel(lvl)
	return nil
}

// SetLogFile starts mirroring log output as JSON lines into path.
func (l *logContainer) SetLogFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("unable to create logfile: %v", err)
	}
	l.file.attach(f)
	return nil
}

// String mirrors zap.String
func (l *logContainer) String(key string, val string) zap.Field {
	return zap.String(key, val)
}

// Int mirrors zap.Int
func (l *logContainer) Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if isatty.IsTerminal(os.Stdout.Fd()) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getJsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.EpochTimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func (l *logContainer) getConsoleCore() zapcore.Core {
	return zapcore.NewCore(getConsoleEncoder(), zapcore.AddSync(os.Stdout), l.level)
}

func (l *logContainer) getJsonCore() zapcore.Core {
	return zapcore.NewCore(getJsonEncoder(), l.file, l.level)
}

func (l *logContainer) getCombinedCore() zapcore.Core {
	return zapcore.NewTee(l.getConsoleCore(), l.getJsonCore())
}
