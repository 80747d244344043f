// Package retry runs an operation a bounded number of times, waiting a fixed
// delay between attempts. Which failures are worth another attempt is decided
// by the Policy's classifier, so callers with different notions of
// "transient" share the same loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class is the outcome of a single attempt.
type Class int

const (
	Ok Class = iota
	Transient
	Fatal
)

func (c Class) String() string {
	switch c {
	case Ok:
		return "ok"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// ErrExhausted matches (via errors.Is) any error returned by Do after the
// last allowed attempt failed transiently.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustedError carries the last transient failure seen before giving up.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Permanent marks err as not worth retrying under the AllButPermanent
// classifier.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// AllButPermanent treats every failure as transient unless it was wrapped
// with Permanent.
func AllButPermanent(err error) Class {
	switch {
	case err == nil:
		return Ok
	case IsPermanent(err):
		return Fatal
	}
	return Transient
}

// Only treats failures matching target (via errors.Is) as transient and
// everything else as fatal.
func Only(target error) func(error) Class {
	return func(err error) Class {
		switch {
		case err == nil:
			return Ok
		case errors.Is(err, target):
			return Transient
		}
		return Fatal
	}
}

// Policy configures Do.
type Policy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	Attempts int
	// Delay is waited between consecutive attempts.
	Delay time.Duration
	// Classify decides whether a failure is retried. nil means
	// AllButPermanent.
	Classify func(error) Class
	// Timer paces the delays. nil means a real timer.
	Timer backoff.Timer
	// OnRetry, if set, is called before each delay with the number of the
	// attempt that just failed.
	OnRetry func(attempt int, err error)
}

func (p Policy) classify(err error) Class {
	if p.Classify == nil {
		return AllButPermanent(err)
	}
	return p.Classify(err)
}

// Do calls op until it succeeds, fails fatally, or runs out of attempts.
// A fatal failure is returned as is; running out of attempts returns an
// *ExhaustedError. If ctx ends first, the context error is returned wrapped.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)

	var (
		tries int
		last  error
		fatal bool
	)
	operation := func() error {
		tries++
		err := op(ctx)
		switch p.classify(err) {
		case Ok:
			return nil
		case Fatal:
			fatal = true
			return backoff.Permanent(err)
		}
		last = err
		return err
	}
	notify := func(err error, _ time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(tries, err)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, p.Timer)
	switch {
	case err == nil:
		return nil
	case fatal:
		return err
	case tries >= attempts:
		return &ExhaustedError{Attempts: tries, Last: last}
	}
	return fmt.Errorf("retry interrupted after attempt %d: %w", tries, err)
}
