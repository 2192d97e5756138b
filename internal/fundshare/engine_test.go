package fundshare

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/quota/internal/currency"
	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/fx"
	"github.com/mtlprog/quota/internal/lock"
	"github.com/mtlprog/quota/internal/testutil"
)

type engineFixture struct {
	engine    *Engine
	ledger    *testutil.FundShareStore
	snapshots *testutil.SnapshotStore
	accounts  *testutil.Accounts
	rates     *testutil.RateStore
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		ledger:    testutil.NewFundShareStore(),
		snapshots: testutil.NewSnapshotStore(),
		accounts:  testutil.NewAccounts().AddAccount("u1", "acc-1", "BRL"),
		rates:     testutil.NewRateStore(),
	}
	conv := currency.NewConsolidator(fx.NewService(f.rates, &testutil.Recorder{}, nil, 1), "BRL")
	f.engine = NewEngine(f.ledger, f.snapshots, f.accounts, conv, lock.NewMemoryLocker(), one)
	return f
}

func (f *engineFixture) consolidated(date, nav string, degraded bool) {
	f.snapshots.Put(domain.PortfolioSnapshot{
		UserID: "u1", Date: testutil.Day(date), NAV: testutil.Dec(nav), Currency: "BRL", Degraded: degraded,
	})
}

func (f *engineFixture) rows(t *testing.T) []domain.FundShare {
	t.Helper()
	rows, err := f.ledger.List(context.Background(), "u1",
		domain.NewDateRange(testutil.Day("2026-01-01"), testutil.Day("2026-12-31")))
	require.NoError(t, err)
	return rows
}

func TestRecomputeBuildsLedgerFromInception(t *testing.T) {
	f := newEngineFixture()
	f.consolidated("2026-01-02", "1000", false)
	f.consolidated("2026-01-05", "1100", false)
	f.consolidated("2026-01-06", "1210", false)

	out, err := f.engine.Recompute(context.Background(), "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)
	require.Len(t, out.Rows, 3)

	rows := f.rows(t)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[0].DailyReturn)
	assert.True(t, rows[1].DailyReturn.Equal(testutil.Dec("0.1")))
	assert.True(t, rows[2].ShareValue.Equal(testutil.Dec("1.21")))
	assert.True(t, rows[2].CumulativeReturn.Equal(testutil.Dec("0.21")))
	assert.Equal(t, "u1", rows[2].UserID)
}

func TestRecomputeIssuesSharesForDepositsInBaseCurrency(t *testing.T) {
	f := newEngineFixture()
	f.rates.Put("USD", "BRL", "2026-01-02", "5.00")
	f.consolidated("2026-01-02", "1000", false)
	f.consolidated("2026-01-05", "1500", false)
	// 100 USD deposited on Saturday, converted with the gap-filled Friday rate.
	f.accounts.AddFlow("u1", "acc-1", "2026-01-03", "100", "USD")

	_, err := f.engine.Recompute(context.Background(), "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)

	rows := f.rows(t)
	require.Len(t, rows, 2)
	assert.True(t, rows[1].NetFlow.Equal(testutil.Dec("500")))
	assert.True(t, rows[1].SharesOutstanding.Equal(testutil.Dec("1500")))
	assert.True(t, rows[1].ShareValue.Equal(one))
	assert.True(t, rows[1].DailyReturn.IsZero())
}

func TestRecomputeCascadesAfterPastChange(t *testing.T) {
	f := newEngineFixture()
	f.consolidated("2026-01-02", "1000", false)
	f.consolidated("2026-01-05", "1100", false)
	f.consolidated("2026-01-06", "1210", false)
	ctx := context.Background()

	_, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)

	// Restate 01-05; 01-06 depends on it.
	f.consolidated("2026-01-05", "1200", false)
	_, err = f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-05"), true)
	require.NoError(t, err)

	rows := f.rows(t)
	require.Len(t, rows, 3)
	assert.True(t, rows[1].ShareValue.Equal(testutil.Dec("1.2")))
	assert.True(t, rows[2].DailyReturn.Equal(testutil.Dec("0.0083333333")), "daily = %s", rows[2].DailyReturn)
	assert.True(t, rows[2].CumulativeReturn.Equal(testutil.Dec("0.21")), "cumulative = %s", rows[2].CumulativeReturn)
}

func TestRecomputeWithoutCascadeRefusesStaleDownstream(t *testing.T) {
	f := newEngineFixture()
	f.consolidated("2026-01-02", "1000", false)
	f.consolidated("2026-01-05", "1100", false)
	f.consolidated("2026-01-06", "1210", false)
	ctx := context.Background()

	_, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)
	before := f.rows(t)

	f.consolidated("2026-01-05", "1200", false)
	_, err = f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-05"), false)

	require.True(t, errors.Is(err, domain.ErrStaleDownstreamSnapshots), "err = %v", err)
	var stale *domain.StaleDownstreamError
	require.True(t, errors.As(err, &stale))
	require.Len(t, stale.StaleDates, 1)
	assert.True(t, stale.StaleDates[0].Equal(testutil.Day("2026-01-06")))

	assert.Equal(t, before, f.rows(t), "nothing may be written when refusing")
}

func TestRecomputeWithoutCascadeAcceptsUnchangedRow(t *testing.T) {
	f := newEngineFixture()
	f.consolidated("2026-01-02", "1000", false)
	f.consolidated("2026-01-05", "1100", false)
	ctx := context.Background()

	_, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)

	_, err = f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), false)
	assert.NoError(t, err)
}

func TestRecomputeSkipsDegradedDaysAndCarriesFlows(t *testing.T) {
	f := newEngineFixture()
	f.consolidated("2026-01-02", "1000", false)
	f.consolidated("2026-01-05", "1100", false)
	f.consolidated("2026-01-06", "1650", false)
	ctx := context.Background()

	_, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)
	require.Len(t, f.rows(t), 3)

	// 01-05 turns degraded and a deposit lands on it.
	f.consolidated("2026-01-05", "900", true)
	f.accounts.AddFlow("u1", "acc-1", "2026-01-05", "500", "BRL")

	out, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-05"), true)
	require.NoError(t, err)
	require.Len(t, out.Cleared, 1)
	assert.True(t, out.Cleared[0].Equal(testutil.Day("2026-01-05")))

	rows := f.rows(t)
	require.Len(t, rows, 2, "degraded day must have no ledger row")
	last := rows[1]
	assert.True(t, last.Date.Equal(testutil.Day("2026-01-06")))
	assert.True(t, last.NetFlow.Equal(testutil.Dec("500")), "flow from the degraded day carries forward")
	assert.True(t, last.SharesOutstanding.Equal(testutil.Dec("1500")), "issued at the last computed share value")
	assert.True(t, last.ShareValue.Equal(testutil.Dec("1.1")))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newEngineFixture()
	f.consolidated("2026-01-02", "1000", false)
	f.consolidated("2026-01-05", "1033.3333", false)
	f.accounts.AddFlow("u1", "acc-1", "2026-01-05", "77.77", "BRL")
	ctx := context.Background()

	_, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)
	first := f.rows(t)

	_, err = f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)
	second := f.rows(t)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, Equal(first[i], second[i]), "row %d differs", i)
	}
}

func TestRecomputeNoSnapshotsWritesNothing(t *testing.T) {
	f := newEngineFixture()
	out, err := f.engine.Recompute(context.Background(), "u1", testutil.Day("2026-01-02"), true)
	require.NoError(t, err)
	assert.Empty(t, out.Rows)
	assert.Empty(t, f.rows(t))
}

func TestRecomputeRebuildsRowsMissingBeforeFrom(t *testing.T) {
	f := newEngineFixture()
	f.consolidated("2026-01-02", "1000", false)
	ctx := context.Background()

	_, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), false)
	require.NoError(t, err)

	// The update for 01-05 never reached the ledger.
	f.consolidated("2026-01-05", "1100", false)
	f.consolidated("2026-01-06", "1210", false)
	has, err := f.engine.Has(ctx, "u1", testutil.Day("2026-01-05"))
	require.NoError(t, err)
	require.False(t, has)

	out, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-06"), false)
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)

	rows := f.rows(t)
	require.Len(t, rows, 3)
	assert.True(t, rows[1].Date.Equal(testutil.Day("2026-01-05")))
	assert.True(t, rows[1].ShareValue.Equal(testutil.Dec("1.1")))
	assert.True(t, rows[2].ShareValue.Equal(testutil.Dec("1.21")))

	has, err = f.engine.Has(ctx, "u1", testutil.Day("2026-01-05"))
	require.NoError(t, err)
	assert.True(t, has)
}

// gatedLedger holds the first Replace until released and tracks how many
// recomputations are between their first read and their write.
type gatedLedger struct {
	*testutil.FundShareStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu        sync.Mutex
	reads     int
	active    int
	maxActive int
}

func (g *gatedLedger) LatestBefore(ctx context.Context, userID string, date time.Time) (domain.FundShare, error) {
	g.mu.Lock()
	g.reads++
	g.active++
	g.maxActive = max(g.maxActive, g.active)
	g.mu.Unlock()
	return g.FundShareStore.LatestBefore(ctx, userID, date)
}

func (g *gatedLedger) Replace(ctx context.Context, userID string, r domain.DateRange, rows []domain.FundShare) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	err := g.FundShareStore.Replace(ctx, userID, r, rows)
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return err
}

func (g *gatedLedger) readCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads
}

func TestRecomputeSerializesPerUser(t *testing.T) {
	f := newEngineFixture()
	f.consolidated("2026-01-02", "1000", false)
	f.consolidated("2026-01-05", "1100", false)
	ledger := &gatedLedger{
		FundShareStore: f.ledger,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	f.engine.repo = ledger
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() {
		_, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-02"), true)
		errs <- err
	}()
	<-ledger.entered

	go func() {
		_, err := f.engine.Recompute(ctx, "u1", testutil.Day("2026-01-05"), true)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ledger.readCount(), "second recomputation must wait for the first")

	close(ledger.release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, 2, ledger.readCount())
	assert.Equal(t, 1, ledger.maxActive)
	assert.Len(t, f.rows(t), 2)
}
