// Package logging builds the slog logger shared by every command.
//
// Attributes attached to a context with ContextAttrs (module, run id) are
// added to every record logged with that context, so lifecycle code can
// log with plain slog.InfoContext calls.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Output formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type ctxKeyT struct{}

var ctxKey ctxKeyT

// ContextHandler adds the attributes stored in the context to each record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{Handler: handler}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(ctxKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// ContextAttrs returns a context carrying attrs in addition to the ones
// already attached to ctx.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(ctxKey).([]slog.Attr)
	a := make([]slog.Attr, 0, len(prev)+len(attrs))
	a = append(a, prev...)
	a = append(a, attrs...)
	return context.WithValue(ctx, ctxKey, a)
}

// New creates the application logger writing to w. format is "text" or
// "json"; verbose lowers the level to debug. The "error" key is
// normalised to "err".
func New(format string, verbose bool, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}

	var base slog.Handler
	switch strings.ToLower(format) {
	case "", FormatText:
		base = slog.NewTextHandler(w, opts)
	case FormatJSON:
		base = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %q (valid: text, json)", format)
	}
	return slog.New(NewContextHandler(base)), nil
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
