package engine

import (
	"context"
	"errors"
	"time"

	"claimline/internal/domain"
)

// Watch polling bounds. A watch never outlives maxAttempts intervals so
// a run that stops emitting cannot pin a caller forever.
const (
	watchInterval    = 500 * time.Millisecond
	watchMaxAttempts = 600
)

// ErrWatchTimeout reports a watch that hit its attempt bound before the
// run reached a terminal status.
var ErrWatchTimeout = errors.New("run watch timed out")

// WatchRun streams a run's sub-events to fn in order, polling until the
// run finishes, the context is canceled, fn returns an error, or the
// attempt bound is reached.
func (e Engine) WatchRun(ctx context.Context, runID string, fn func(domain.RunEvent) error) error {
	if _, err := e.Store.GetRun(ctx, runID); err != nil {
		return err
	}
	var cursor int64
	for attempt := 0; attempt < watchMaxAttempts; attempt++ {
		events, err := e.Store.GetRunEvents(ctx, runID, cursor)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
			cursor = ev.Seq
		}
		r, err := e.Store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if r.Status != domain.RunRunning {
			// Drain anything emitted between the last poll and the
			// status flip.
			tail, err := e.Store.GetRunEvents(ctx, runID, cursor)
			if err != nil {
				return err
			}
			for _, ev := range tail {
				if err := fn(ev); err != nil {
					return err
				}
				cursor = ev.Seq
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(watchInterval):
		}
	}
	return ErrWatchTimeout
}
