// Package snapshot values a user's accounts for a date and persists the result.
package snapshot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/fundshare"
	"github.com/mtlprog/quota/internal/lock"
	"github.com/mtlprog/quota/internal/realized"
	"github.com/mtlprog/quota/internal/valuation"
)

// AccountSource resolves accounts and their cash.
type AccountSource interface {
	Accounts(ctx context.Context, userID string) ([]domain.Account, error)
	Account(ctx context.Context, accountID string) (domain.Account, error)
	CashBalances(ctx context.Context, accountID string, date time.Time) ([]domain.CashBalance, error)
}

// PositionValuer values an account's positions in their native currencies.
type PositionValuer interface {
	ValuePositions(ctx context.Context, accountID string, date time.Time) (valuation.Result, error)
}

// Converter converts native amounts into the base currency.
type Converter interface {
	Base() string
	Convert(ctx context.Context, native string, date time.Time, amounts ...decimal.Decimal) ([]decimal.Decimal, error)
}

// RealizedSource sums realized P&L in the base currency.
type RealizedSource interface {
	ForAccount(ctx context.Context, accountID string, r domain.DateRange) (decimal.Decimal, error)
}

// Ledger recomputes the quota ledger after a consolidated snapshot changed.
type Ledger interface {
	Recompute(ctx context.Context, userID string, from time.Time, cascade bool) (fundshare.Outcome, error)
	Has(ctx context.Context, userID string, date time.Time) (bool, error)
}

// Hook is notified after a user's consolidated snapshot and ledger were updated.
type Hook interface {
	AfterSnapshot(ctx context.Context, userID string, date time.Time) error
}

// DegradedPolicy decides what happens to the consolidated row when an account is degraded.
type DegradedPolicy string

const (
	// PolicyExclude writes the consolidated row without degraded accounts and flags it.
	PolicyExclude DegradedPolicy = "exclude"
	// PolicyFail skips the consolidated row and returns ErrDegradedSnapshot.
	PolicyFail DegradedPolicy = "fail"
)

// Options configures a Generator.
type Options struct {
	Policy      DegradedPolicy
	Cascade     bool
	Concurrency int
}

// Deps bundles the collaborators of a Generator.
type Deps struct {
	Accounts AccountSource
	Valuer   PositionValuer
	Conv     Converter
	Realized RealizedSource
	Repo     Repository
	Ledger   Ledger
	Locker   lock.Locker
}

// Generator produces portfolio snapshots. At most one computation per key runs at a
// time: duplicate calls in this process join the in-flight one, and a key held by
// another process is rejected with ErrConcurrentRecomputation.
type Generator struct {
	deps  Deps
	opts  Options
	hooks []Hook
	group singleflight.Group
}

// NewGenerator creates a snapshot generator.
func NewGenerator(deps Deps, opts Options) *Generator {
	if opts.Policy == "" {
		opts.Policy = PolicyExclude
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Generator{deps: deps, opts: opts}
}

// AddHook registers a hook run after every consolidated change.
func (g *Generator) AddHook(h Hook) {
	g.hooks = append(g.hooks, h)
}

// Result is the outcome of one Generate call.
type Result struct {
	Snapshots []domain.PortfolioSnapshot
	// Changed lists the keys whose stored rows were inserted or modified.
	Changed []domain.SnapshotKey
	Ledger  *fundshare.Outcome
}

// Generate values the key's scope and upserts the snapshot rows. An empty account
// produces every account row plus the consolidated row.
//
// The computation is shared by every caller that joins it and is not cancelled when one
// of them goes away; each caller stops waiting when its own ctx is done.
func (g *Generator) Generate(ctx context.Context, key domain.SnapshotKey) (Result, error) {
	key.Date = domain.Day(key.Date)

	ch := g.group.DoChan(key.String(), func() (any, error) {
		return g.generate(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			slog.Info("SnapshotGenerator: joined in-flight computation", "key", key.String())
		}
		res, _ := r.Val.(Result)
		return res, r.Err
	}
}

func (g *Generator) generate(ctx context.Context, key domain.SnapshotKey) (Result, error) {
	unlock, ok, err := g.deps.Locker.TryLock(ctx, "snapshot:"+key.String())
	if err != nil {
		return Result{}, fmt.Errorf("locking %s: %w", key, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("snapshot %s: %w", key, domain.ErrConcurrentRecomputation)
	}
	defer unlock()

	if key.AccountID != "" {
		return g.generateAccount(ctx, key)
	}
	return g.generateConsolidated(ctx, key)
}

func (g *Generator) generateAccount(ctx context.Context, key domain.SnapshotKey) (Result, error) {
	acc, err := g.deps.Accounts.Account(ctx, key.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("resolving account %s: %w", key.AccountID, err)
	}
	if acc.UserID != key.UserID {
		return Result{}, fmt.Errorf("account %s of user %s: %w", key.AccountID, key.UserID, domain.ErrNotFound)
	}

	snap := g.valueAccount(ctx, acc, key.Date)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	res.Snapshots = []domain.PortfolioSnapshot{snap}
	changed, err := g.deps.Repo.Upsert(ctx, snap)
	if err != nil {
		return res, err
	}
	if changed {
		res.Changed = append(res.Changed, snap.Key())
	}
	logSnapshot(snap, changed)
	return res, nil
}

func (g *Generator) generateConsolidated(ctx context.Context, key domain.SnapshotKey) (Result, error) {
	accounts, err := g.deps.Accounts.Accounts(ctx, key.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("listing accounts of %s: %w", key.UserID, err)
	}

	units := make([]accountUnit, len(accounts))
	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)
	for i, acc := range accounts {
		eg.Go(func() error {
			units[i] = g.accountRow(ctx, acc, key.Date)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	var errs []error
	snaps := make([]domain.PortfolioSnapshot, 0, len(units))
	for _, u := range units {
		snaps = append(snaps, u.snap)
		if u.err != nil {
			errs = append(errs, u.err)
			continue
		}
		if u.changed {
			res.Changed = append(res.Changed, u.snap.Key())
		}
		res.Snapshots = append(res.Snapshots, u.snap)
		logSnapshot(u.snap, u.changed)
	}

	consolidated := g.consolidate(key, snaps)
	if consolidated.Degraded && g.opts.Policy == PolicyFail {
		slog.Warn("SnapshotGenerator: consolidated snapshot not written",
			"key", key.String(), "degraded_accounts", consolidated.Excluded)
		errs = append(errs, fmt.Errorf("snapshot %s: accounts %v could not be valued: %w",
			key, consolidated.Excluded, domain.ErrDegradedSnapshot))
		return res, errors.Join(errs...)
	}

	changed, err := g.deps.Repo.Upsert(ctx, consolidated)
	if err != nil {
		return res, errors.Join(append(errs, err)...)
	}
	res.Snapshots = append(res.Snapshots, consolidated)
	logSnapshot(consolidated, changed)
	if changed {
		res.Changed = append(res.Changed, consolidated.Key())
	} else {
		pending, err := g.ledgerPending(ctx, consolidated)
		if err != nil {
			return res, errors.Join(append(errs, err)...)
		}
		if !pending {
			return res, errors.Join(errs...)
		}
		slog.Warn("SnapshotGenerator: ledger row missing, recomputing", "key", key.String())
	}

	outcome, err := g.deps.Ledger.Recompute(ctx, key.UserID, key.Date, g.opts.Cascade)
	if err != nil {
		return res, errors.Join(append(errs, fmt.Errorf("updating ledger of %s: %w", key.UserID, err))...)
	}
	res.Ledger = &outcome

	for _, h := range g.hooks {
		if err := h.AfterSnapshot(ctx, key.UserID, key.Date); err != nil {
			slog.Error("SnapshotGenerator: hook failed", "user", key.UserID, "error", err)
		}
	}
	return res, errors.Join(errs...)
}

// ledgerPending reports whether an unchanged consolidated row still lacks its ledger row,
// which happens when the ledger update after an earlier write failed.
func (g *Generator) ledgerPending(ctx context.Context, consolidated domain.PortfolioSnapshot) (bool, error) {
	if consolidated.Degraded {
		return false, nil
	}
	has, err := g.deps.Ledger.Has(ctx, consolidated.UserID, consolidated.Date)
	if err != nil {
		return false, fmt.Errorf("checking ledger of %s: %w", consolidated.UserID, err)
	}
	return !has, nil
}

type accountUnit struct {
	snap    domain.PortfolioSnapshot
	changed bool
	err     error
}

// accountRow values and stores one account's row under that account's snapshot key, so a
// concurrent single-account run never computes the same row alongside a consolidated run.
// A row that could not be locked or stored is returned degraded and kept out of the total.
func (g *Generator) accountRow(ctx context.Context, acc domain.Account, date time.Time) accountUnit {
	key := domain.SnapshotKey{UserID: acc.UserID, Date: date, AccountID: acc.ID}
	degraded := func(item string, err error) accountUnit {
		snap := domain.PortfolioSnapshot{UserID: acc.UserID, Date: date, AccountID: acc.ID, Currency: g.deps.Conv.Base(), Degraded: true}
		snap.Failures = []domain.ValuationFailure{{AccountID: acc.ID, Item: item, Reason: err.Error()}}
		return accountUnit{snap: snap, err: err}
	}

	unlock, err := g.deps.Locker.Lock(ctx, "snapshot:"+key.String())
	if err != nil {
		return degraded("lock", fmt.Errorf("locking %s: %w", key, err))
	}
	defer unlock()

	snap := g.valueAccount(ctx, acc, date)
	changed, err := g.deps.Repo.Upsert(ctx, snap)
	if err != nil {
		return degraded("store", err)
	}
	return accountUnit{snap: snap, changed: changed}
}

// valueAccount never fails outright: anything that cannot be valued is recorded as a
// failure and marks the row degraded.
func (g *Generator) valueAccount(ctx context.Context, acc domain.Account, date time.Time) domain.PortfolioSnapshot {
	snap := domain.PortfolioSnapshot{
		UserID:    acc.UserID,
		Date:      date,
		AccountID: acc.ID,
		Currency:  g.deps.Conv.Base(),
	}
	fail := func(item string, err error) {
		snap.Degraded = true
		snap.Failures = append(snap.Failures, domain.ValuationFailure{AccountID: acc.ID, Item: item, Reason: err.Error()})
	}

	mv, cost, cash := decimal.Zero, decimal.Zero, decimal.Zero

	res, err := g.deps.Valuer.ValuePositions(ctx, acc.ID, date)
	if err != nil {
		fail("positions", err)
	}
	for _, f := range res.Failures {
		fail(f.Item, f.Err)
	}
	for _, p := range res.Positions {
		base, err := g.deps.Conv.Convert(ctx, p.Currency, date, p.MarketValue, p.CostBasis)
		if err != nil {
			fail(p.Item, err)
			continue
		}
		mv = mv.Add(base[0])
		cost = cost.Add(base[1])
	}

	balances, err := g.deps.Accounts.CashBalances(ctx, acc.ID, date)
	if err != nil {
		fail("cash", err)
	}
	for _, b := range balances {
		base, err := g.deps.Conv.Convert(ctx, b.Currency, date, b.Amount)
		if err != nil {
			fail("cash:"+b.Currency, err)
			continue
		}
		cash = cash.Add(base[0])
	}

	pnl, err := g.deps.Realized.ForAccount(ctx, acc.ID, realized.ToDate(date))
	if err != nil {
		fail("realized", err)
	}

	snap.MarketValue = domain.RoundMoney(mv)
	snap.TotalCost = domain.RoundMoney(cost)
	snap.UnrealizedPnL = domain.RoundMoney(mv.Sub(cost))
	snap.Cash = domain.RoundMoney(cash)
	snap.NAV = domain.RoundMoney(mv.Add(cash))
	snap.RealizedPnL = domain.RoundMoney(pnl)
	sortFailures(snap.Failures)
	return snap
}

func (g *Generator) consolidate(key domain.SnapshotKey, accounts []domain.PortfolioSnapshot) domain.PortfolioSnapshot {
	out := domain.PortfolioSnapshot{
		UserID:   key.UserID,
		Date:     key.Date,
		Currency: g.deps.Conv.Base(),
	}

	degraded := lo.Filter(accounts, func(s domain.PortfolioSnapshot, _ int) bool { return s.Degraded })
	if len(degraded) > 0 {
		out.Degraded = true
		out.Excluded = lo.Map(degraded, func(s domain.PortfolioSnapshot, _ int) string { return s.AccountID })
		slices.Sort(out.Excluded)
		for _, s := range degraded {
			out.Failures = append(out.Failures, s.Failures...)
		}
		sortFailures(out.Failures)
	}

	for _, s := range accounts {
		if s.Degraded {
			continue
		}
		out.NAV = out.NAV.Add(s.NAV)
		out.MarketValue = out.MarketValue.Add(s.MarketValue)
		out.Cash = out.Cash.Add(s.Cash)
		out.TotalCost = out.TotalCost.Add(s.TotalCost)
		out.RealizedPnL = out.RealizedPnL.Add(s.RealizedPnL)
		out.UnrealizedPnL = out.UnrealizedPnL.Add(s.UnrealizedPnL)
	}
	return out
}

func sortFailures(f []domain.ValuationFailure) {
	slices.SortFunc(f, func(a, b domain.ValuationFailure) int {
		return cmp.Or(cmp.Compare(a.AccountID, b.AccountID), cmp.Compare(a.Item, b.Item), cmp.Compare(a.Reason, b.Reason))
	})
}

func logSnapshot(s domain.PortfolioSnapshot, changed bool) {
	attrs := []any{"key", s.Key().String(), "nav", s.NAV.String(), "changed", changed}
	if s.Degraded {
		slog.Warn("SnapshotGenerator: degraded snapshot", append(attrs, "failures", len(s.Failures))...)
		return
	}
	slog.Info("SnapshotGenerator: snapshot saved", attrs...)
}

// Get returns one stored snapshot.
func (g *Generator) Get(ctx context.Context, key domain.SnapshotKey) (domain.PortfolioSnapshot, error) {
	key.Date = domain.Day(key.Date)
	return g.deps.Repo.Get(ctx, key)
}

// ListByDate returns every stored row of a user for a date.
func (g *Generator) ListByDate(ctx context.Context, userID string, date time.Time) ([]domain.PortfolioSnapshot, error) {
	return g.deps.Repo.ListByDate(ctx, userID, domain.Day(date))
}

// ListConsolidated returns the user's consolidated rows within r.
func (g *Generator) ListConsolidated(ctx context.Context, userID string, r domain.DateRange) ([]domain.PortfolioSnapshot, error) {
	return g.deps.Repo.ListConsolidated(ctx, userID, r)
}
