package logging

import (
	"context"
	"errors"
	"log/slog"
)

// moduleHandler gates records on a module level and writes them to every
// current output. Outputs are resolved per record, so loggers handed out
// before Initialize follow the configured format and destinations.
type moduleHandler struct {
	level *slog.LevelVar
	scope []func(slog.Handler) slog.Handler // WithAttrs and WithGroup, in call order
}

func (h *moduleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *moduleHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, out := range currentOutputs() {
		for _, apply := range h.scope {
			out = apply(out)
		}
		if err := out.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *moduleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(out slog.Handler) slog.Handler { return out.WithAttrs(attrs) })
}

func (h *moduleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(out slog.Handler) slog.Handler { return out.WithGroup(name) })
}

func (h *moduleHandler) with(apply func(slog.Handler) slog.Handler) *moduleHandler {
	scope := make([]func(slog.Handler) slog.Handler, len(h.scope), len(h.scope)+1)
	copy(scope, h.scope)
	return &moduleHandler{level: h.level, scope: append(scope, apply)}
}
