package fundshare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/lock"
)

// SnapshotSource lists consolidated snapshots in ascending date order.
type SnapshotSource interface {
	ConsolidatedFrom(ctx context.Context, userID string, from time.Time) ([]domain.PortfolioSnapshot, error)
}

// FlowSource lists external cash flows.
type FlowSource interface {
	CashFlows(ctx context.Context, userID string, r domain.DateRange) ([]domain.CashFlow, error)
}

// Converter converts a flow amount into the base currency.
type Converter interface {
	Base() string
	ToBase(ctx context.Context, amount decimal.Decimal, native, base string, date time.Time) (decimal.Decimal, error)
}

// Engine recomputes the quota ledger. Recomputation is serialized per user.
type Engine struct {
	repo      Repository
	snapshots SnapshotSource
	flows     FlowSource
	conv      Converter
	locker    lock.Locker
	seed      decimal.Decimal
}

// NewEngine creates a ledger engine. seed is the share value assigned at inception.
func NewEngine(repo Repository, snapshots SnapshotSource, flows FlowSource, conv Converter, locker lock.Locker, seed decimal.Decimal) *Engine {
	return &Engine{repo: repo, snapshots: snapshots, flows: flows, conv: conv, locker: locker, seed: seed}
}

// Outcome reports what a recomputation wrote.
type Outcome struct {
	Rows []domain.FundShare
	// Cleared lists dates whose previous rows were dropped without replacement
	// (degraded or non-positive days).
	Cleared []time.Time
}

// Recompute rebuilds the ledger row for from and, when cascade is true, every later row
// through the last consolidated snapshot. Consolidated days between the latest row before
// from and from that have no row yet (an earlier update failed) are rebuilt as well.
// Without cascade, a change that would invalidate existing later rows is refused with a
// *domain.StaleDownstreamError and nothing is written.
func (e *Engine) Recompute(ctx context.Context, userID string, from time.Time, cascade bool) (Outcome, error) {
	from = domain.Day(from)

	unlock, err := e.locker.Lock(ctx, "fundshare:"+userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("locking ledger for %s: %w", userID, err)
	}
	defer unlock()

	var prior *domain.FundShare
	if p, err := e.repo.LatestBefore(ctx, userID, from); err == nil {
		prior = &p
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Outcome{}, err
	}

	var scanFrom time.Time
	if prior != nil {
		scanFrom = prior.Date.AddDate(0, 0, 1)
	}
	snaps, err := e.snapshots.ConsolidatedFrom(ctx, userID, scanFrom)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading consolidated snapshots: %w", err)
	}
	start := from
	if len(snaps) > 0 && snaps[0].Date.Before(from) {
		start = snaps[0].Date
		slog.Info("FundShareEngine: rebuilding missing rows",
			"user", userID, "from", start.Format(domain.DateLayout), "requested", from.Format(domain.DateLayout))
	}

	existing, err := e.repo.DatesFrom(ctx, userID, start)
	if err != nil {
		return Outcome{}, err
	}
	later := lo.Filter(existing, func(d time.Time, _ int) bool { return d.After(from) })

	end := from
	if cascade {
		for _, s := range snaps {
			end = maxDate(end, s.Date)
		}
		for _, d := range existing {
			end = maxDate(end, d)
		}
	}
	snaps = lo.Filter(snaps, func(s domain.PortfolioSnapshot, _ int) bool { return !s.Date.After(end) })

	flowsByDate, err := e.netFlows(ctx, userID, prior, start, end)
	if err != nil {
		return Outcome{}, err
	}

	rows, err := e.fold(userID, prior, snaps, flowsByDate)
	if err != nil {
		return Outcome{}, err
	}

	if !cascade && len(later) > 0 {
		current, err := e.repo.Get(ctx, userID, from)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return Outcome{}, err
		}
		unchanged := len(rows) == 0
		if err == nil {
			unchanged = len(rows) == 1 && Equal(current, rows[0])
		}
		if len(rows) > 0 && rows[0].Date.Before(from) {
			unchanged = false
		}
		if !unchanged {
			return Outcome{}, &domain.StaleDownstreamError{UserID: userID, From: from, StaleDates: later}
		}
	}

	span := domain.DateRange{From: start, To: end}
	if err := e.repo.Replace(ctx, userID, span, rows); err != nil {
		return Outcome{}, err
	}

	written := lo.SliceToMap(rows, func(r domain.FundShare) (time.Time, struct{}) { return r.Date, struct{}{} })
	cleared := lo.Filter(existing, func(d time.Time, _ int) bool {
		_, ok := written[d]
		return !ok && span.Contains(d)
	})

	slog.Info("FundShareEngine: ledger recomputed",
		"user", userID, "from", start.Format(domain.DateLayout), "to", end.Format(domain.DateLayout),
		"rows", len(rows), "cleared", len(cleared), "cascade", cascade)

	return Outcome{Rows: rows, Cleared: cleared}, nil
}

// fold applies NextState over snapshots in date order. Degraded days produce no row and
// their flows carry to the next computed day. Flows up to and including inception are
// absorbed by the seed.
func (e *Engine) fold(userID string, prior *domain.FundShare, snaps []domain.PortfolioSnapshot, flows map[time.Time]decimal.Decimal) ([]domain.FundShare, error) {
	flowDates := lo.Keys(flows)
	slices.SortFunc(flowDates, time.Time.Compare)

	state := prior
	pending := decimal.Zero
	next := 0
	var rows []domain.FundShare

	for _, snap := range snaps {
		for next < len(flowDates) && !flowDates[next].After(snap.Date) {
			pending = pending.Add(flows[flowDates[next]])
			next++
		}
		if snap.Degraded {
			slog.Warn("FundShareEngine: skipping degraded day",
				"user", userID, "date", snap.Date.Format(domain.DateLayout), "pendingFlow", pending.String())
			continue
		}
		if state == nil {
			pending = decimal.Zero
		}

		row, err := NextState(state, DayInput{Date: snap.Date, NAV: snap.NAV, NetFlow: pending, SeedShareValue: e.seed})
		if err != nil {
			if errors.Is(err, domain.ErrNonPositiveNAV) {
				slog.Warn("FundShareEngine: no ledger row", "user", userID, "error", err)
				continue
			}
			return nil, err
		}
		row.UserID = userID
		rows = append(rows, row)
		state = &rows[len(rows)-1]
		pending = decimal.Zero
	}
	return rows, nil
}

// netFlows sums external flows per day in the base currency, from the day after the prior
// row (or from, at inception) through end.
func (e *Engine) netFlows(ctx context.Context, userID string, prior *domain.FundShare, from, end time.Time) (map[time.Time]decimal.Decimal, error) {
	start := from
	if prior != nil {
		start = prior.Date.AddDate(0, 0, 1)
	}
	flows, err := e.flows.CashFlows(ctx, userID, domain.DateRange{From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("reading cash flows: %w", err)
	}

	out := make(map[time.Time]decimal.Decimal)
	for _, f := range flows {
		amount, err := e.conv.ToBase(ctx, f.Amount, f.Currency, e.conv.Base(), f.Date)
		if err != nil {
			return nil, fmt.Errorf("converting cash flow on %s: %w", f.Date.Format(domain.DateLayout), err)
		}
		d := domain.Day(f.Date)
		out[d] = out[d].Add(amount)
	}
	return out, nil
}

// Has reports whether the ledger holds a row for the user on date.
func (e *Engine) Has(ctx context.Context, userID string, date time.Time) (bool, error) {
	_, err := e.repo.Get(ctx, userID, domain.Day(date))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func maxDate(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
