package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/quota/internal/domain"
)

// Accounts is an in-memory Account/Transaction store. Holdings are returned regardless
// of the requested date unless a date-specific override is set with PositionsOn.
type Accounts struct {
	mu        sync.Mutex
	accounts  []domain.Account
	positions map[string][]domain.Position
	dated     map[string][]domain.Position
	fixed     map[string][]domain.FixedIncomePosition
	cash      map[string][]domain.CashBalance
	flows     []domain.CashFlow
	trades    []domain.RealizedTrade
}

// NewAccounts creates an empty store.
func NewAccounts() *Accounts {
	return &Accounts{
		positions: make(map[string][]domain.Position),
		dated:     make(map[string][]domain.Position),
		fixed:     make(map[string][]domain.FixedIncomePosition),
		cash:      make(map[string][]domain.CashBalance),
	}
}

// AddAccount registers an account.
func (a *Accounts) AddAccount(userID, accountID, currency string) *Accounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts = append(a.accounts, domain.Account{ID: accountID, UserID: userID, Name: accountID, Currency: currency})
	return a
}

// AddPosition adds a quote-priced holding.
func (a *Accounts) AddPosition(accountID string, asset domain.AssetID, quantity, costBasis, currency string) *Accounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions[accountID] = append(a.positions[accountID], domain.Position{
		AccountID:   accountID,
		AssetID:     asset,
		Quantity:    Dec(quantity),
		AverageCost: Dec(costBasis).DivRound(Dec(quantity), domain.PriceScale),
		CostBasis:   Dec(costBasis),
		Currency:    currency,
	})
	return a
}

// PositionsOn overrides the holdings of an account for one date.
func (a *Accounts) PositionsOn(accountID, date string, positions ...domain.Position) *Accounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dated[accountID+"@"+date] = positions
	return a
}

// AddFixedIncome adds an accrual-valued holding.
func (a *Accounts) AddFixedIncome(p domain.FixedIncomePosition) *Accounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fixed[p.AccountID] = append(a.fixed[p.AccountID], p)
	return a
}

// AddCash sets a cash balance.
func (a *Accounts) AddCash(accountID, currency, amount string) *Accounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cash[accountID] = append(a.cash[accountID], domain.CashBalance{AccountID: accountID, Currency: currency, Amount: Dec(amount)})
	return a
}

// AddFlow records an external deposit (positive) or withdrawal (negative).
func (a *Accounts) AddFlow(userID, accountID, date, amount, currency string) *Accounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flows = append(a.flows, domain.CashFlow{UserID: userID, AccountID: accountID, Date: Day(date), Amount: Dec(amount), Currency: currency})
	return a
}

// AddTrade appends a closed-trade ledger entry.
func (a *Accounts) AddTrade(t domain.RealizedTrade) *Accounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trades = append(a.trades, t)
	return a
}

func (a *Accounts) Users(context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	users := lo.Uniq(lo.Map(a.accounts, func(acc domain.Account, _ int) string { return acc.UserID }))
	slices.Sort(users)
	return users, nil
}

func (a *Accounts) Accounts(_ context.Context, userID string) ([]domain.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return lo.Filter(a.accounts, func(acc domain.Account, _ int) bool { return acc.UserID == userID }), nil
}

func (a *Accounts) Account(_ context.Context, accountID string) (domain.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := lo.Find(a.accounts, func(acc domain.Account) bool { return acc.ID == accountID })
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	return acc, nil
}

func (a *Accounts) Positions(_ context.Context, accountID string, date time.Time) ([]domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.dated[accountID+"@"+date.Format(domain.DateLayout)]; ok {
		return p, nil
	}
	return a.positions[accountID], nil
}

func (a *Accounts) FixedIncome(_ context.Context, accountID string, _ time.Time) ([]domain.FixedIncomePosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fixed[accountID], nil
}

func (a *Accounts) CashBalances(_ context.Context, accountID string, _ time.Time) ([]domain.CashBalance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash[accountID], nil
}

func (a *Accounts) CashFlows(_ context.Context, userID string, r domain.DateRange) ([]domain.CashFlow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return lo.Filter(a.flows, func(f domain.CashFlow, _ int) bool {
		return f.UserID == userID && r.Contains(f.Date)
	}), nil
}

func (a *Accounts) RealizedTrades(_ context.Context, accountID string, r domain.DateRange) ([]domain.RealizedTrade, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return lo.Filter(a.trades, func(t domain.RealizedTrade, _ int) bool {
		return t.AccountID == accountID && r.Contains(t.ClosingDate)
	}), nil
}

func (a *Accounts) HeldAssets(context.Context, time.Time) ([]domain.AssetID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var assets []domain.AssetID
	for _, ps := range a.positions {
		for _, p := range ps {
			assets = append(assets, p.AssetID)
		}
	}
	assets = lo.Uniq(assets)
	slices.Sort(assets)
	return assets, nil
}

func (a *Accounts) Currencies(context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var cs []string
	for _, acc := range a.accounts {
		cs = append(cs, acc.Currency)
	}
	for _, ps := range a.positions {
		for _, p := range ps {
			cs = append(cs, p.Currency)
		}
	}
	for _, bs := range a.cash {
		for _, b := range bs {
			cs = append(cs, b.Currency)
		}
	}
	cs = lo.Uniq(cs)
	slices.Sort(cs)
	return cs, nil
}
