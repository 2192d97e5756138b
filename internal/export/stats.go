package export

import (
	"log/slog"
	"math"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// Stats summarizes a ledger.
type Stats struct {
	Days             int
	FirstDate        time.Time
	LastDate         time.Time
	ShareValue       decimal.Decimal
	CumulativeReturn decimal.Decimal
	// Volatility is the sample standard deviation of daily returns.
	Volatility decimal.Decimal
	// MaxDrawdown is the largest peak-to-trough fall of the share value, as a fraction of the peak.
	MaxDrawdown decimal.Decimal
}

// ComputeStats summarizes ledger rows sorted by date.
func ComputeStats(rows []domain.FundShare) Stats {
	if len(rows) == 0 {
		return Stats{}
	}
	last := rows[len(rows)-1]

	returns := lo.FilterMap(rows, func(r domain.FundShare, _ int) (decimal.Decimal, bool) {
		if r.DailyReturn == nil {
			return decimal.Zero, false
		}
		return *r.DailyReturn, true
	})

	return Stats{
		Days:             len(rows),
		FirstDate:        rows[0].Date,
		LastDate:         last.Date,
		ShareValue:       last.ShareValue,
		CumulativeReturn: last.CumulativeReturn,
		Volatility:       domain.RoundReturn(StdDev(returns)),
		MaxDrawdown:      domain.RoundReturn(MaxDrawdown(lo.Map(rows, func(r domain.FundShare, _ int) decimal.Decimal { return r.ShareValue }))),
	}
}

// Mean calculates the arithmetic mean of a decimal slice.
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := lo.Reduce(values, func(acc decimal.Decimal, v decimal.Decimal, _ int) decimal.Decimal {
		return acc.Add(v)
	}, decimal.Zero)
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// Variance calculates the sample variance of a decimal slice.
func Variance(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	mean := Mean(values)
	sumSqDiff := lo.Reduce(values, func(acc decimal.Decimal, v decimal.Decimal, _ int) decimal.Decimal {
		diff := v.Sub(mean)
		return acc.Add(diff.Mul(diff))
	}, decimal.Zero)

	return sumSqDiff.Div(decimal.NewFromInt(int64(len(values) - 1)))
}

// StdDev calculates the sample standard deviation of a decimal slice.
func StdDev(values []decimal.Decimal) decimal.Decimal {
	v := Variance(values)
	f, exact := v.Float64()
	if !exact {
		slog.Debug("precision loss in StdDev float64 conversion", "variance", v.String())
	}
	return decimal.NewFromFloat(math.Sqrt(f))
}

// MaxDrawdown returns the largest relative fall from a running peak.
func MaxDrawdown(values []decimal.Decimal) decimal.Decimal {
	worst := decimal.Zero
	var peak decimal.Decimal
	for i, v := range values {
		if i == 0 || v.GreaterThan(peak) {
			peak = v
		}
		if !peak.IsPositive() {
			continue
		}
		if dd := peak.Sub(v).DivRound(peak, 20); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst
}
