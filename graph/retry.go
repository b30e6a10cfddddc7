package graph

import (
	"context"
	"errors"
	"fmt"
)

// Transient marks err as transient. Use with WithRetries so only these
// errors (e.g. registry copy hiccups) are retried, not permanent ones.
type Transient struct{ Err error }

func (e *Transient) Error() string { return e.Err.Error() }
func (e *Transient) Unwrap() error { return e.Err }

// TransientErr marks err as transient.
func TransientErr(err error) error { return &Transient{Err: err} }

// IsTransient reports whether err is marked transient.
func IsTransient(err error) bool { return errors.As(err, new(*Transient)) }

// WithRetries runs fn up to attempts times, retrying only errors marked
// transient. The last error is returned when attempts are exhausted; a
// non-transient error returns immediately. Context cancellation stops the
// loop between attempts.
func WithRetries(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
