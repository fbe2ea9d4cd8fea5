// Package logging provides a github.com/go.uber.org/zap-backed
// implementation of pkg/orchestrator.Logger, used by every command
// binary instead of the teacher's bare fmt/log calls in cmd/agent's
// original main.go.
package logging

import (
	"go.uber.org/zap"

	"github.com/voxedge/agent/pkg/orchestrator"
)

// ZapLogger adapts a *zap.SugaredLogger to orchestrator.Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a production zap logger (JSON, info level) wrapped as an
// orchestrator.Logger.
func New() (*ZapLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: l.Sugar()}, nil
}

// NewDevelopment builds a human-readable console logger, used by
// binaries run interactively (spec's CLI surface, §6).
func NewDevelopment() (*ZapLogger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: l.Sugar()}, nil
}

func (z *ZapLogger) Debug(msg string, args ...interface{}) { z.sugar.Debugf(msg, args...) }
func (z *ZapLogger) Info(msg string, args ...interface{})  { z.sugar.Infof(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...interface{})  { z.sugar.Warnf(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...interface{}) { z.sugar.Errorf(msg, args...) }

// Sync flushes any buffered log entries; call before process exit.
func (z *ZapLogger) Sync() error { return z.sugar.Sync() }

var _ orchestrator.Logger = (*ZapLogger)(nil)
