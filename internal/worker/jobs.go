// Package worker runs the ingestion, ledger and snapshot pipelines on a schedule.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/fundshare"
	"github.com/mtlprog/quota/internal/snapshot"
)

// Holdings lists what the pipelines need to cover.
type Holdings interface {
	Users(ctx context.Context) ([]string, error)
	HeldAssets(ctx context.Context, date time.Time) ([]domain.AssetID, error)
	Currencies(ctx context.Context) ([]string, error)
}

// QuoteSyncer fills quote gaps for assets.
type QuoteSyncer interface {
	EnsureQuotes(ctx context.Context, assets []domain.AssetID, r domain.DateRange) ([]domain.IngestionResult, error)
}

// RateSyncer fills exchange rate gaps for pairs.
type RateSyncer interface {
	Sync(ctx context.Context, pairs []domain.CurrencyPair, r domain.DateRange) ([]domain.IngestionResult, error)
}

// SnapshotGenerator produces snapshots for a key.
type SnapshotGenerator interface {
	Generate(ctx context.Context, key domain.SnapshotKey) (snapshot.Result, error)
}

// LedgerEngine recomputes a user's quota ledger.
type LedgerEngine interface {
	Recompute(ctx context.Context, userID string, from time.Time, cascade bool) (fundshare.Outcome, error)
}

// Summary counts what an ingestion run did.
type Summary struct {
	Keys    int
	Fetched int
	Failed  int
}

func summarize(results []domain.IngestionResult) Summary {
	s := Summary{Keys: len(results)}
	for _, r := range results {
		s.Fetched += len(r.Fetched)
		s.Failed += len(r.Failed)
	}
	return s
}

// Jobs are the idempotent, date-scoped pipeline entry points. For a given date the
// caller runs quotes and FX before the ledger and snapshots.
type Jobs struct {
	holdings  Holdings
	quotes    QuoteSyncer
	rates     RateSyncer
	snapshots SnapshotGenerator
	ledger    LedgerEngine
	base      string
	cascade   bool
}

// NewJobs wires the pipelines. base is the portfolio base currency.
func NewJobs(holdings Holdings, quotes QuoteSyncer, rates RateSyncer, snapshots SnapshotGenerator, ledger LedgerEngine, base string, cascade bool) *Jobs {
	return &Jobs{
		holdings:  holdings,
		quotes:    quotes,
		rates:     rates,
		snapshots: snapshots,
		ledger:    ledger,
		base:      base,
		cascade:   cascade,
	}
}

// Window returns the lookback range ending on today.
func Window(today time.Time, lookbackDays int) domain.DateRange {
	today = domain.Day(today)
	return domain.NewDateRange(today.AddDate(0, 0, -lookbackDays), today)
}

// SyncQuotes fills quote gaps in r for every asset held on r.To.
func (j *Jobs) SyncQuotes(ctx context.Context, r domain.DateRange) (Summary, error) {
	assets, err := j.holdings.HeldAssets(ctx, r.To)
	if err != nil {
		return Summary{}, fmt.Errorf("listing held assets: %w", err)
	}
	results, err := j.quotes.EnsureQuotes(ctx, assets, r)
	s := summarize(results)
	slog.Info("Jobs: quote sync finished", "assets", s.Keys, "fetched", s.Fetched, "failed", s.Failed)
	return s, err
}

// SyncFX fills rate gaps in r for every currency the accounts use, against the base.
func (j *Jobs) SyncFX(ctx context.Context, r domain.DateRange) (Summary, error) {
	currencies, err := j.holdings.Currencies(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing currencies: %w", err)
	}
	pairs := lo.FilterMap(currencies, func(c string, _ int) (domain.CurrencyPair, bool) {
		return domain.CurrencyPair{From: c, To: j.base}, c != j.base
	})
	results, err := j.rates.Sync(ctx, pairs, r)
	s := summarize(results)
	slog.Info("Jobs: fx sync finished", "pairs", s.Keys, "fetched", s.Fetched, "failed", s.Failed)
	return s, err
}

// CalculateNAV recomputes the ledger from date for the given users, or every user when
// none are given. A failure for one user does not stop the others.
func (j *Jobs) CalculateNAV(ctx context.Context, date time.Time, users ...string) error {
	users, err := j.users(ctx, users)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range users {
		out, err := j.ledger.Recompute(ctx, u, date, j.cascade)
		if err != nil {
			slog.Error("Jobs: ledger recomputation failed", "user", u, "error", err)
			errs = append(errs, fmt.Errorf("user %s: %w", u, err))
			continue
		}
		slog.Info("Jobs: ledger recomputed", "user", u, "rows", len(out.Rows), "cleared", len(out.Cleared))
	}
	return errors.Join(errs...)
}

// GenerateSnapshots produces the consolidated snapshot set for date for the given users,
// or every user when none are given. A failure for one user does not stop the others.
func (j *Jobs) GenerateSnapshots(ctx context.Context, date time.Time, users ...string) error {
	users, err := j.users(ctx, users)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range users {
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
		res, err := j.snapshots.Generate(ctx, domain.SnapshotKey{UserID: u, Date: date})
		if err != nil {
			slog.Error("Jobs: snapshot generation failed", "user", u, "error", err)
			errs = append(errs, fmt.Errorf("user %s: %w", u, err))
			continue
		}
		slog.Info("Jobs: snapshots generated", "user", u, "rows", len(res.Snapshots), "changed", len(res.Changed))
	}
	return errors.Join(errs...)
}

func (j *Jobs) users(ctx context.Context, users []string) ([]string, error) {
	if len(users) > 0 {
		return users, nil
	}
	all, err := j.holdings.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return all, nil
}
