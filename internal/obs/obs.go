// Package obs carries a structured logger on context.Context so business
// logic never reaches for a module-level singleton.
package obs

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

// WithLogger returns a child context carrying lg.
func WithLogger(ctx context.Context, lg zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, lg)
}

// Logger returns the logger attached to ctx, or the global default logger
// if none was attached.
func Logger(ctx context.Context) *zerolog.Logger {
	if lg, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return &lg
	}
	return &log.Logger
}
