// Package errors provides cleanup helpers that log instead of dropping errors.
package errors

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs a failure at warn level. A nil closer is
// ignored.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferShutdown calls stop with a context bounded by timeout and logs a
// failure at warn level.
func DeferShutdown(logger zerolog.Logger, stop func(context.Context) error, timeout time.Duration, msg string) {
	if stop == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// Must panics if err is not nil.
// Use only for initialization code where failure should halt the program.
func Must(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("%s: %v", msg, err))
	}
}
