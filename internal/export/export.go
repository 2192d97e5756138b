// Package export publishes a user's quota ledger and consolidated snapshots to spreadsheets.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/quota/internal/domain"
)

// LedgerReader lists quota ledger rows.
type LedgerReader interface {
	List(ctx context.Context, userID string, r domain.DateRange) ([]domain.FundShare, error)
}

// SnapshotReader lists consolidated snapshots.
type SnapshotReader interface {
	ListConsolidated(ctx context.Context, userID string, r domain.DateRange) ([]domain.PortfolioSnapshot, error)
}

// Report is everything written for one user.
type Report struct {
	UserID    string
	Currency  string
	Range     domain.DateRange
	Ledger    []domain.FundShare
	Snapshots []domain.PortfolioSnapshot
	Stats     Stats
}

// SheetWriter writes a report to a spreadsheet destination.
type SheetWriter interface {
	Write(ctx context.Context, report Report) error
}

// Service builds reports and delegates writing to SheetWriters.
type Service struct {
	ledger    LedgerReader
	snapshots SnapshotReader
	currency  string
	writers   []SheetWriter
}

// NewService creates a new export Service.
func NewService(ledger LedgerReader, snapshots SnapshotReader, currency string, writers ...SheetWriter) *Service {
	return &Service{
		ledger:    ledger,
		snapshots: snapshots,
		currency:  currency,
		writers:   writers,
	}
}

// Build reads the ledger and consolidated snapshots of a user within r.
func (s *Service) Build(ctx context.Context, userID string, r domain.DateRange) (Report, error) {
	ledger, err := s.ledger.List(ctx, userID, r)
	if err != nil {
		return Report{}, fmt.Errorf("reading ledger: %w", err)
	}
	snaps, err := s.snapshots.ListConsolidated(ctx, userID, r)
	if err != nil {
		return Report{}, fmt.Errorf("reading snapshots: %w", err)
	}
	return Report{
		UserID:    userID,
		Currency:  s.currency,
		Range:     r,
		Ledger:    ledger,
		Snapshots: snaps,
		Stats:     ComputeStats(ledger),
	}, nil
}

// Export builds the report and hands it to every writer. A failing writer does not
// stop the others.
func (s *Service) Export(ctx context.Context, userID string, r domain.DateRange) error {
	report, err := s.Build(ctx, userID, r)
	if err != nil {
		return err
	}

	var errs []error
	for _, w := range s.writers {
		if err := w.Write(ctx, report); err != nil {
			errs = append(errs, err)
			continue
		}
	}
	slog.Info("export: report written", "user", userID, "ledger_rows", len(report.Ledger),
		"snapshots", len(report.Snapshots), "writers", len(s.writers), "failed", len(errs))
	return errors.Join(errs...)
}

// AfterSnapshot exports the full history through date. It runs as a snapshot hook.
func (s *Service) AfterSnapshot(ctx context.Context, userID string, date time.Time) error {
	return s.Export(ctx, userID, History(date))
}

// History is the range from the epoch through date.
func History(date time.Time) domain.DateRange {
	return domain.NewDateRange(time.Unix(0, 0), date)
}
