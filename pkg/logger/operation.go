package logger

import (
	"context"
	"log/slog"
	"time"
)

// Operation logs the lifecycle of one broker call (start/complete/fail)
type Operation struct {
	logger    *Logger
	ctx       context.Context
	name      string
	StartTime time.Time
	attrs     []any
}

// StartOp begins tracking an operation. The start line is debug level since
// PSK installs happen on every handshake.
func (l *Logger) StartOp(ctx context.Context, name string, args ...any) *Operation {
	op := &Operation{
		logger:    l,
		ctx:       ctx,
		name:      name,
		StartTime: time.Now(),
		attrs:     args,
	}

	attrs := append([]any{slog.String("operation", name)}, args...)
	l.WithContext(ctx).Debug("operation started", attrs...)

	return op
}

// With adds attributes to the operation
func (op *Operation) With(args ...any) *Operation {
	op.attrs = append(op.attrs, args...)
	return op
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed() time.Duration { return time.Since(op.StartTime) }

// Complete logs successful operation completion
func (op *Operation) Complete(msg string, args ...any) {
	if msg == "" {
		msg = "operation completed"
	}
	op.logger.WithContext(op.ctx).Info(msg, op.fields(args)...)
}

// Fail logs a failed operation at error level.
func (op *Operation) Fail(err error, msg string, args ...any) {
	if msg == "" {
		msg = "operation failed"
	}
	op.logger.ErrorCtx(op.ctx, msg, err, op.fields(args)...)
}

// FailWarn logs a recoverable failure at warn level.
func (op *Operation) FailWarn(err error, msg string, args ...any) {
	if msg == "" {
		msg = "operation failed"
	}
	fields := append([]any{slog.String("error", err.Error())}, op.fields(args)...)
	op.logger.WithContext(op.ctx).Warn(msg, fields...)
}

func (op *Operation) fields(args []any) []any {
	attrs := append(
		[]any{
			slog.String("operation", op.name),
			slog.Duration("duration_ms", op.Elapsed()),
		},
		op.attrs...,
	)
	return append(attrs, args...)
}
