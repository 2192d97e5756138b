// Package ingest holds the provider-priority fill loop and result bookkeeping shared by
// quote and exchange-rate synchronization.
package ingest

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/provider"
)

// Source is one provider bound to a single asset or pair.
type Source struct {
	Name  string
	Fetch func(ctx context.Context, r domain.DateRange) ([]provider.Point, error)
}

// SaveFunc persists points fetched from the named source. Settled rows must be left intact.
type SaveFunc func(ctx context.Context, source string, points []provider.Point) error

// Outcome summarizes one Fill call.
type Outcome struct {
	Fetched []time.Time
	Failed  []time.Time
	Sources []string
	Err     error
}

// NewRunID returns a fresh identifier shared by every result recorded in one sync run.
func NewRunID() string {
	return uuid.NewString()
}

// Gaps returns the days in r that are not in existing. Weekends are skipped unless
// weekends is set, for keys that trade every calendar day.
func Gaps(r domain.DateRange, existing []time.Time, weekends bool) []time.Time {
	have := lo.SliceToMap(existing, func(d time.Time) (time.Time, struct{}) {
		return domain.Day(d), struct{}{}
	})
	return lo.Filter(r.Days(), func(d time.Time, _ int) bool {
		if !weekends && (d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) {
			return false
		}
		_, ok := have[d]
		return !ok
	})
}

// Settled drops the dates on or after today from existing. Those rows still hold
// intraday values and are fetched again on every run.
func Settled(existing []time.Time, today time.Time) []time.Time {
	today = domain.Day(today)
	return lo.Filter(existing, func(d time.Time, _ int) bool { return domain.Day(d).Before(today) })
}

// Span returns the smallest range covering dates. dates must not be empty.
func Span(dates []time.Time) domain.DateRange {
	return domain.NewDateRange(slices.MinFunc(dates, time.Time.Compare), slices.MaxFunc(dates, time.Time.Compare))
}

// Fill tries sources in priority order until every gap is filled or the sources run out.
// The first source returning points for a gap wins it. Gaps that stay empty are reported
// as failed only when some source errored; otherwise they are treated as non-trading days.
func Fill(ctx context.Context, gaps []time.Time, sources []Source, save SaveFunc) Outcome {
	var out Outcome
	remaining := lo.SliceToMap(gaps, func(d time.Time) (time.Time, struct{}) {
		return domain.Day(d), struct{}{}
	})

	var errs []error
	for _, src := range sources {
		if len(remaining) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		points, err := src.Fetch(ctx, Span(lo.Keys(remaining)))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		points = lo.Filter(points, func(p provider.Point, _ int) bool {
			_, ok := remaining[domain.Day(p.Date)]
			return ok
		})
		if len(points) == 0 {
			continue
		}

		if err := save(ctx, src.Name, points); err != nil {
			errs = append(errs, err)
			break
		}
		for _, p := range points {
			delete(remaining, domain.Day(p.Date))
			out.Fetched = append(out.Fetched, domain.Day(p.Date))
		}
		out.Sources = append(out.Sources, src.Name)
	}

	slices.SortFunc(out.Fetched, time.Time.Compare)
	if len(errs) > 0 {
		out.Err = errors.Join(errs...)
		out.Failed = lo.Keys(remaining)
		slices.SortFunc(out.Failed, time.Time.Compare)
	}
	return out
}

// ForEach runs fn for every key with at most limit calls in flight.
// fn errors do not cancel siblings; only context cancellation is returned.
func ForEach[K any](ctx context.Context, keys []K, limit int, fn func(ctx context.Context, i int, key K)) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() == nil {
				fn(ctx, i, key)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
