// Package alert delivers operator notifications outside the chat guild.
package alert

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Notifier sends a plain-text alert to operators.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes alerts to the application log, so they are kept even when no
// operator channel is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, text string) error {
	l.logger.Warn("operator alert", zap.String("alert", text))
	return nil
}
