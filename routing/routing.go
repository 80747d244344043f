// Package routing pushes a desired route set to a remote command target, one
// route at a time, in the order given.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/songgao/keenroutesd/cidr"
	"go.uber.org/zap"
)

// Target applies a single route on the router. Apply handles its own
// retries; an error it returns is final for that route. Errors wrapped with
// Fatal stop the batch, anything else only fails the route.
type Target interface {
	Apply(ctx context.Context, r cidr.Route) error
	// Close releases the target. Sync calls it exactly once.
	Close() error
}

// FatalError marks a failure after which no further routes are attempted.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so that Sync aborts the remaining routes.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// RouteApplyError records a route that could not be applied.
type RouteApplyError struct {
	Route cidr.Route
	Err   error
}

func (e *RouteApplyError) Error() string {
	return fmt.Sprintf("applying route %s error: %v", e.Route, e.Err)
}

func (e *RouteApplyError) Unwrap() error { return e.Err }

// Report summarizes a Sync call.
type Report struct {
	Total   int
	Applied int
	Failed  []*RouteApplyError
	// Skipped counts routes never attempted because the batch was aborted.
	Skipped int
	// Aborted is the error that stopped the batch, if any.
	Aborted error
	// CloseErr is the error returned by Target.Close.
	CloseErr error
}

// Changed reports whether at least one route was applied.
func (r Report) Changed() bool {
	return r.Applied > 0
}

// Err returns nil only when every route was applied.
func (r Report) Err() error {
	switch {
	case r.Aborted != nil:
		return fmt.Errorf("aborted after %d of %d routes (%d skipped): %w", r.Applied+len(r.Failed), r.Total, r.Skipped, r.Aborted)
	case len(r.Failed) > 0:
		return fmt.Errorf("%d of %d routes failed, first: %w", len(r.Failed), r.Total, r.Failed[0])
	}
	return nil
}

// Sync applies routes through t in order, then closes t. A fatal failure or
// a canceled ctx stops the batch; any other failure is recorded and the next
// route is attempted.
func Sync(ctx context.Context, logger *zap.Logger, t Target, routes []cidr.Route) (report Report) {
	logger.Debug("+ Sync")
	defer logger.Debug("- Sync")

	report.Total = len(routes)
	defer func() {
		if err := t.Close(); err != nil {
			logger.Sugar().Warnf("closing target error: %v", err)
			report.CloseErr = err
		}
	}()

	for i, r := range routes {
		if err := ctx.Err(); err != nil {
			report.Aborted = err
			report.Skipped = len(routes) - i
			logger.Sugar().Errorf("sync canceled, %d routes skipped: %v", report.Skipped, err)
			return report
		}

		err := t.Apply(ctx, r)
		if err == nil {
			report.Applied++
			logger.Sugar().Infof("route %s mask %s applied", r.Network, r.Mask)
			continue
		}

		rerr := &RouteApplyError{Route: r, Err: err}
		report.Failed = append(report.Failed, rerr)
		var fatal *FatalError
		if errors.As(err, &fatal) {
			report.Aborted = rerr
			report.Skipped = len(routes) - i - 1
			logger.Sugar().Errorf("route %s mask %s: %v; aborting, %d routes skipped", r.Network, r.Mask, err, report.Skipped)
			return report
		}
		logger.Sugar().Warnf("route %s mask %s failed: %v", r.Network, r.Mask, err)
	}
	return report
}
