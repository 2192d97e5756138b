package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/quota/internal/account"
	"github.com/mtlprog/quota/internal/api"
	"github.com/mtlprog/quota/internal/config"
	"github.com/mtlprog/quota/internal/currency"
	"github.com/mtlprog/quota/internal/database"
	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/export"
	"github.com/mtlprog/quota/internal/fundshare"
	"github.com/mtlprog/quota/internal/fx"
	"github.com/mtlprog/quota/internal/ingest"
	"github.com/mtlprog/quota/internal/lock"
	"github.com/mtlprog/quota/internal/provider"
	"github.com/mtlprog/quota/internal/quote"
	"github.com/mtlprog/quota/internal/realized"
	"github.com/mtlprog/quota/internal/snapshot"
	"github.com/mtlprog/quota/internal/valuation"
	"github.com/mtlprog/quota/internal/worker"
)

func newApp(cfg config.Config) *cli.App {
	rangeFlags := []cli.Flag{
		&cli.StringFlag{Name: "from", Usage: "first date (YYYY-MM-DD), defaults to LOOKBACK_DAYS before --to"},
		&cli.StringFlag{Name: "to", Usage: "last date (YYYY-MM-DD), defaults to today"},
	}
	dateFlag := &cli.StringFlag{Name: "date", Usage: "valuation date (YYYY-MM-DD), defaults to today"}
	userFlag := &cli.StringSliceFlag{Name: "user", Usage: "user ID, repeatable; defaults to every user"}

	return &cli.App{
		Name:  "quota",
		Usage: "portfolio valuation and quota accounting",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the scheduler and the read API",
				Action: withApp(cfg, serve),
			},
			{
				Name:  "sync-quotes",
				Usage: "fill missing daily quotes for held assets",
				Flags: append(rangeFlags,
					&cli.StringSliceFlag{Name: "asset", Usage: "asset to sync instead of every held asset"}),
				Action: withApp(cfg, syncQuotes),
			},
			{
				Name:   "sync-fx",
				Usage:  "fill missing exchange rates into the base currency",
				Flags:  rangeFlags,
				Action: withApp(cfg, syncFX),
			},
			{
				Name:  "calculate-nav",
				Usage: "recompute the quota ledger from a date",
				Flags: []cli.Flag{dateFlag, userFlag,
					&cli.BoolFlag{Name: "cascade", Value: cfg.CascadeForward, Usage: "recompute every later ledger row"}},
				Action: withApp(cfg, calculateNAV),
			},
			{
				Name:  "generate-snapshot",
				Usage: "value accounts and persist portfolio snapshots",
				Flags: []cli.Flag{dateFlag, userFlag,
					&cli.StringFlag{Name: "account", Usage: "single account; requires exactly one --user"}},
				Action: withApp(cfg, generateSnapshot),
			},
			{
				Name:  "export-ledger",
				Usage: "write the quota ledger and consolidated snapshots to a spreadsheet",
				Flags: append(rangeFlags,
					&cli.StringFlag{Name: "user", Required: true},
					&cli.StringFlag{Name: "out", Usage: "xlsx output path", Value: "ledger.xlsx"},
					&cli.BoolFlag{Name: "sheets", Usage: "also write to GOOGLE_SHEETS_ID"}),
				Action: withApp(cfg, exportLedger),
			},
		},
	}
}

// app holds the wired services for one command.
type app struct {
	cfg       config.Config
	pool      *pgxpool.Pool
	accounts  *account.PgReader
	quotes    *quote.Service
	rates     *fx.Service
	ledger    *fundshare.PgRepository
	engine    *fundshare.Engine
	snapshots *snapshot.PgRepository
	generator *snapshot.Generator
}

func withApp(cfg config.Config, run func(*cli.Context, *app) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := setup(c.Context, cfg)
		if err != nil {
			return err
		}
		defer a.pool.Close()
		return run(c, a)
	}
}

func setup(ctx context.Context, cfg config.Config) (*app, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	migrationsSub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating migrations sub-fs: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrationsSub); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	clientCfg := provider.ClientConfig{
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderRetryMax,
		BaseDelay:  cfg.ProviderRetryBaseDelay,
		RatePerSec: cfg.ProviderRatePerSec,
	}
	var quoteFetchers []provider.QuoteFetcher
	var rateFetchers []provider.RateFetcher
	for _, name := range cfg.Providers {
		switch name {
		case "yahoo":
			y := provider.NewYahoo(cfg.YahooURL, clientCfg)
			quoteFetchers = append(quoteFetchers, y)
			rateFetchers = append(rateFetchers, y)
		case "eodhd":
			e := provider.NewEODHD(cfg.EODHDURL, cfg.EODHDAPIKey, clientCfg)
			quoteFetchers = append(quoteFetchers, e)
			rateFetchers = append(rateFetchers, e)
		case "coingecko":
			quoteFetchers = append(quoteFetchers, provider.NewCoinGecko(cfg.CoinGeckoURL, cfg.CoinGeckoVsCurrency, clientCfg))
		default:
			slog.Warn("unknown provider ignored", "provider", name)
		}
	}

	recorder := ingest.NewPgRecorder(pool)
	locker := lock.NewPgLocker(pool)
	accounts := account.NewPgReader(pool)

	quotes := quote.NewService(quote.NewPgRepository(pool), recorder, quoteFetchers, quote.Options{
		CacheTTL:     cfg.QuoteCacheTTL,
		Concurrency:  cfg.WorkerConcurrency,
		LookbackDays: cfg.LookbackDays,
	})
	rates := fx.NewService(fx.NewPgRepository(pool), recorder, rateFetchers, cfg.WorkerConcurrency)
	conv := currency.NewConsolidator(rates, cfg.BaseCurrency)

	ledger := fundshare.NewPgRepository(pool)
	snapshots := snapshot.NewPgRepository(pool)
	engine := fundshare.NewEngine(ledger, snapshots, accounts, conv, locker, cfg.SeedShareValue)

	generator := snapshot.NewGenerator(snapshot.Deps{
		Accounts: accounts,
		Valuer: valuation.NewValuer(quotes, accounts, valuation.Accrual{
			Convention: domain.AccrualConvention(cfg.FixedIncomeConvention),
			DayBasis:   cfg.FixedIncomeDayBasis,
		}),
		Conv:     conv,
		Realized: realized.NewLedger(accounts, conv),
		Repo:     snapshots,
		Ledger:   engine,
		Locker:   locker,
	}, snapshot.Options{
		Policy:      snapshot.DegradedPolicy(cfg.DegradedPolicy),
		Cascade:     cfg.CascadeForward,
		Concurrency: cfg.WorkerConcurrency,
	})

	return &app{
		cfg:       cfg,
		pool:      pool,
		accounts:  accounts,
		quotes:    quotes,
		rates:     rates,
		ledger:    ledger,
		engine:    engine,
		snapshots: snapshots,
		generator: generator,
	}, nil
}

func (a *app) jobs(cascade bool) *worker.Jobs {
	return worker.NewJobs(a.accounts, a.quotes, a.rates, a.generator, a.engine, a.cfg.BaseCurrency, cascade)
}

func (a *app) sheetsWriter(ctx context.Context) (*export.SheetsWriter, error) {
	if a.cfg.GoogleSheetsID == "" || a.cfg.GoogleCredentialsJSON == "" {
		return nil, errors.New("GOOGLE_SHEETS_ID and GOOGLE_CREDENTIALS_JSON are required")
	}
	return export.NewSheetsWriter(ctx, a.cfg.GoogleSheetsID, a.cfg.GoogleCredentialsJSON)
}

func serve(c *cli.Context, a *app) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if a.cfg.GoogleSheetsID != "" {
		w, err := a.sheetsWriter(ctx)
		if err != nil {
			slog.Error("Google Sheets export disabled", "error", err)
		} else {
			a.generator.AddHook(export.NewService(a.ledger, a.snapshots, a.cfg.BaseCurrency, w))
			slog.Info("Google Sheets export enabled")
		}
	}

	scheduler, err := worker.NewScheduler(a.jobs(a.cfg.CascadeForward), worker.Schedules{
		Quotes:    a.cfg.QuoteSyncSchedule,
		FX:        a.cfg.FXSyncSchedule,
		Snapshots: a.cfg.SnapshotSchedule,
	}, a.cfg.LookbackDays)
	if err != nil {
		return err
	}
	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(schedulerDone)
	}()

	if a.cfg.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, generate endpoint is unprotected")
	}
	srv := api.NewServer(a.cfg.HTTPPort, api.NewHandler(a.generator, a.ledger, a.quotes), a.cfg.AdminAPIKey)

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		log.Printf("HTTP server error: %v", err)
	}
	log.Println("Shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	cancel()
	<-schedulerDone

	log.Println("Shutdown complete")
	return nil
}

func syncQuotes(c *cli.Context, a *app) error {
	r, err := dateRange(c, a.cfg.LookbackDays)
	if err != nil {
		return err
	}
	if assets := c.StringSlice("asset"); len(assets) > 0 {
		ids := make([]domain.AssetID, len(assets))
		for i, s := range assets {
			ids[i] = domain.AssetID(s)
		}
		results, err := a.quotes.EnsureQuotes(c.Context, ids, r)
		for _, res := range results {
			slog.Info("quotes synced", "asset", res.Key, "fetched", len(res.Fetched), "cached", len(res.Cached),
				"failed", len(res.Failed), "error", res.Error)
		}
		return err
	}
	_, err = a.jobs(a.cfg.CascadeForward).SyncQuotes(c.Context, r)
	return err
}

func syncFX(c *cli.Context, a *app) error {
	r, err := dateRange(c, a.cfg.LookbackDays)
	if err != nil {
		return err
	}
	_, err = a.jobs(a.cfg.CascadeForward).SyncFX(c.Context, r)
	return err
}

func calculateNAV(c *cli.Context, a *app) error {
	date, err := dateFlag(c, "date", domain.Today())
	if err != nil {
		return err
	}
	return a.jobs(c.Bool("cascade")).CalculateNAV(c.Context, date, c.StringSlice("user")...)
}

func generateSnapshot(c *cli.Context, a *app) error {
	date, err := dateFlag(c, "date", domain.Today())
	if err != nil {
		return err
	}
	users := c.StringSlice("user")

	if acct := c.String("account"); acct != "" {
		if len(users) != 1 {
			return errors.New("--account requires exactly one --user")
		}
		res, err := a.generator.Generate(c.Context, domain.SnapshotKey{UserID: users[0], Date: date, AccountID: acct})
		if err != nil {
			return err
		}
		for _, s := range res.Snapshots {
			slog.Info("snapshot", "key", s.Key().String(), "nav", s.NAV.String(), "degraded", s.Degraded)
		}
		return nil
	}
	return a.jobs(a.cfg.CascadeForward).GenerateSnapshots(c.Context, date, users...)
}

func exportLedger(c *cli.Context, a *app) error {
	r, err := dateRange(c, 0)
	if err != nil {
		return err
	}
	if !c.IsSet("from") {
		r = export.History(r.To)
	}

	writers := []export.SheetWriter{export.NewXLSXWriter(c.String("out"))}
	if c.Bool("sheets") {
		w, err := a.sheetsWriter(c.Context)
		if err != nil {
			return err
		}
		writers = append(writers, w)
	}
	return export.NewService(a.ledger, a.snapshots, a.cfg.BaseCurrency, writers...).Export(c.Context, c.String("user"), r)
}

func dateFlag(c *cli.Context, name string, def time.Time) (time.Time, error) {
	if !c.IsSet(name) {
		return def, nil
	}
	d, err := domain.ParseDate(c.String(name))
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

// dateRange reads --from/--to, defaulting to the lookback window ending today.
func dateRange(c *cli.Context, lookbackDays int) (domain.DateRange, error) {
	to, err := dateFlag(c, "to", domain.Today())
	if err != nil {
		return domain.DateRange{}, err
	}
	from, err := dateFlag(c, "from", to.AddDate(0, 0, -lookbackDays))
	if err != nil {
		return domain.DateRange{}, err
	}
	if from.After(to) {
		return domain.DateRange{}, errors.New("--from must not be after --to")
	}
	return domain.NewDateRange(from, to), nil
}
