// Package fundshare maintains the quota ledger that models a user's consolidated
// portfolio as a single fund with shares issued and redeemed on external cash flows.
package fundshare

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// divPrecision is the working precision for divisions before rounding to storage scale.
const divPrecision = 20

// DayInput is everything NextState needs for one date.
type DayInput struct {
	Date time.Time
	// NAV is the consolidated net asset value in the base currency.
	NAV decimal.Decimal
	// NetFlow is the net external deposit (positive) or withdrawal (negative) in the base
	// currency since the previous ledger row.
	NetFlow decimal.Decimal
	// SeedShareValue is the share value assigned at inception.
	SeedShareValue decimal.Decimal
}

// NextState computes the ledger row for in.Date from the prior row. A nil prior means
// inception: shares are seeded as NAV / SeedShareValue and returns start at zero.
// Otherwise the net flow buys or redeems shares at the prior share value, so the flow
// itself never shows up as return.
func NextState(prior *domain.FundShare, in DayInput) (domain.FundShare, error) {
	nav := domain.RoundMoney(in.NAV)
	if !nav.IsPositive() {
		return domain.FundShare{}, fmt.Errorf("nav %s on %s: %w", nav, in.Date.Format(domain.DateLayout), domain.ErrNonPositiveNAV)
	}

	if prior == nil {
		seed := in.SeedShareValue
		if !seed.IsPositive() {
			seed = decimal.NewFromInt(1)
		}
		shares := domain.RoundShares(nav.DivRound(seed, divPrecision))
		return domain.FundShare{
			Date:              domain.Day(in.Date),
			NAV:               nav,
			NetFlow:           decimal.Zero,
			SharesOutstanding: shares,
			ShareValue:        shareValue(nav, shares),
			DailyReturn:       nil,
			CumulativeReturn:  decimal.Zero,
		}, nil
	}

	flow := domain.RoundMoney(in.NetFlow)
	issued := domain.RoundShares(flow.DivRound(prior.ShareValue, divPrecision))
	shares := prior.SharesOutstanding.Add(issued)
	if !shares.IsPositive() {
		return domain.FundShare{}, fmt.Errorf("shares outstanding %s after flow %s on %s: %w",
			shares, flow, in.Date.Format(domain.DateLayout), domain.ErrNonPositiveNAV)
	}

	sv := shareValue(nav, shares)
	one := decimal.NewFromInt(1)
	daily := domain.RoundReturn(sv.DivRound(prior.ShareValue, divPrecision).Sub(one))
	cumulative := domain.RoundReturn(one.Add(prior.CumulativeReturn).Mul(one.Add(daily)).Sub(one))

	return domain.FundShare{
		Date:              domain.Day(in.Date),
		NAV:               nav,
		NetFlow:           flow,
		SharesOutstanding: shares,
		ShareValue:        sv,
		DailyReturn:       &daily,
		CumulativeReturn:  cumulative,
	}, nil
}

func shareValue(nav, shares decimal.Decimal) decimal.Decimal {
	return domain.RoundShareValue(nav.DivRound(shares, divPrecision))
}

// Equal reports whether two ledger rows carry the same values.
func Equal(a, b domain.FundShare) bool {
	if (a.DailyReturn == nil) != (b.DailyReturn == nil) {
		return false
	}
	if a.DailyReturn != nil && !a.DailyReturn.Equal(*b.DailyReturn) {
		return false
	}
	return a.UserID == b.UserID &&
		a.Date.Equal(b.Date) &&
		a.NAV.Equal(b.NAV) &&
		a.NetFlow.Equal(b.NetFlow) &&
		a.SharesOutstanding.Equal(b.SharesOutstanding) &&
		a.ShareValue.Equal(b.ShareValue) &&
		a.CumulativeReturn.Equal(b.CumulativeReturn)
}
