// Package logging builds the process logger: a text console sink plus a
// size-rotated file that keeps warnings and errors across runs.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Console receives records at Level and above. Defaults to stderr.
	Console io.Writer
	Level   slog.Level

	// FilePath enables the rotating file sink when non-empty.
	FilePath   string
	FileLevel  slog.Level
	MaxSizeMB  int
	MaxBackups int
}

// New returns a logger and a closer for its file sink.
func New(opts Options) (*slog.Logger, io.Closer) {
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(opts.Console, &slog.HandlerOptions{Level: opts.Level}),
	}
	var closer io.Closer = nopCloser{}
	if opts.FilePath != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 2
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		handlers = append(handlers, slog.NewTextHandler(lj, &slog.HandlerOptions{Level: opts.FileLevel}))
		closer = lj
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer
	}
	return slog.New(fanout(handlers)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout forwards each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

type ctxKey struct{}

// NewContext returns a copy of ctx with the logger stored.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves a logger from ctx or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
