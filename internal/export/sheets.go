package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/mtlprog/quota/internal/domain"
)

const (
	sheetLedger     = "LEDGER"
	sheetSnapshots  = "SNAPSHOTS"
	sheetStats      = "STATS"
	sheetMonitoring = "MONITORING"
)

// SheetsWriter implements SheetWriter using the Google Sheets API.
type SheetsWriter struct {
	spreadsheetID string
	svc           *sheets.Service
}

// NewSheetsWriter creates a SheetsWriter authenticated with a service account JSON.
func NewSheetsWriter(ctx context.Context, spreadsheetID, credentialsJSON string) (*SheetsWriter, error) {
	creds, err := google.CredentialsFromJSON(
		ctx,
		[]byte(credentialsJSON),
		sheets.SpreadsheetsScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parsing google credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &SheetsWriter{spreadsheetID: spreadsheetID, svc: svc}, nil
}

// Write ensures required sheets exist, rewrites the ledger, snapshot and stats sheets,
// then appends one monitoring row.
func (w *SheetsWriter) Write(ctx context.Context, report Report) error {
	meta, err := w.ensureSheets(ctx, sheetLedger, sheetSnapshots, sheetStats, sheetMonitoring)
	if err != nil {
		return err
	}

	_, err = w.svc.Spreadsheets.Values.BatchClear(
		w.spreadsheetID,
		&sheets.BatchClearValuesRequest{
			Ranges: []string{sheetLedger + "!A:G", sheetSnapshots + "!A:J", sheetStats + "!A:B"},
		},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clearing sheets: %w", err)
	}

	_, err = w.svc.Spreadsheets.Values.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateValuesRequest{
			ValueInputOption: "USER_ENTERED",
			Data: []*sheets.ValueRange{
				{Range: sheetLedger + "!A1", Values: buildLedger(report)},
				{Range: sheetSnapshots + "!A1", Values: buildSnapshots(report)},
				{Range: sheetStats + "!A1", Values: buildStats(report)},
			},
		},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing sheets: %w", err)
	}

	if len(report.Ledger) == 0 {
		return nil
	}
	return w.appendMonitoring(ctx, report, meta[sheetMonitoring])
}

var ledgerHeader = []any{"Date", "NAV", "Net flow", "Shares", "Share value", "Daily return", "Cumulative return"}

// buildLedger builds the LEDGER sheet data, one row per ledger date.
func buildLedger(report Report) [][]any {
	data := make([][]any, 0, len(report.Ledger)+1)
	data = append(data, ledgerHeader)
	for _, r := range report.Ledger {
		data = append(data, []any{
			r.Date.Format(domain.DateLayout),
			toFloat(r.NAV),
			toFloat(r.NetFlow),
			toFloat(r.SharesOutstanding),
			toFloat(r.ShareValue),
			ptrFloat(r.DailyReturn),
			toFloat(r.CumulativeReturn),
		})
	}
	return data
}

// buildSnapshots builds the SNAPSHOTS sheet data from consolidated rows.
// Columns: Date | NAV | Market value | Cash | Total cost | Realized | Unrealized | Currency | Degraded | Excluded
func buildSnapshots(report Report) [][]any {
	data := make([][]any, 0, len(report.Snapshots)+1)
	data = append(data, []any{
		"Date", "NAV", "Market value", "Cash", "Total cost",
		"Realized P&L", "Unrealized P&L", "Currency", "Degraded", "Excluded accounts",
	})
	for _, s := range report.Snapshots {
		data = append(data, []any{
			s.Date.Format(domain.DateLayout),
			toFloat(s.NAV),
			toFloat(s.MarketValue),
			toFloat(s.Cash),
			toFloat(s.TotalCost),
			toFloat(s.RealizedPnL),
			toFloat(s.UnrealizedPnL),
			s.Currency,
			s.Degraded,
			strings.Join(s.Excluded, ", "),
		})
	}
	return data
}

// buildStats builds the STATS sheet as metric/value pairs.
func buildStats(report Report) [][]any {
	st := report.Stats
	data := [][]any{
		{"Metric", "Value"},
		{"User", report.UserID},
		{"Currency", report.Currency},
		{"Days", st.Days},
	}
	if st.Days == 0 {
		return data
	}
	return append(data,
		[]any{"First date", st.FirstDate.Format(domain.DateLayout)},
		[]any{"Last date", st.LastDate.Format(domain.DateLayout)},
		[]any{"Share value", toFloat(st.ShareValue)},
		[]any{"Cumulative return", toFloat(st.CumulativeReturn)},
		[]any{"Volatility", toFloat(st.Volatility)},
		[]any{"Max drawdown", toFloat(st.MaxDrawdown)},
	)
}

// sheetMeta holds the id and banded ranges of an existing sheet.
type sheetMeta struct {
	id         int64
	bandingIDs []int64
}

// ensureSheets creates any of the named sheets that do not already exist and returns
// metadata for all of them.
func (w *SheetsWriter) ensureSheets(ctx context.Context, names ...string) (map[string]sheetMeta, error) {
	load := func() (map[string]sheetMeta, error) {
		spreadsheet, err := w.svc.Spreadsheets.Get(w.spreadsheetID).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("getting spreadsheet metadata: %w", err)
		}
		meta := make(map[string]sheetMeta, len(spreadsheet.Sheets))
		for _, s := range spreadsheet.Sheets {
			m := sheetMeta{id: s.Properties.SheetId}
			for _, b := range s.BandedRanges {
				m.bandingIDs = append(m.bandingIDs, b.BandedRangeId)
			}
			meta[s.Properties.Title] = m
		}
		return meta, nil
	}

	meta, err := load()
	if err != nil {
		return nil, err
	}

	var requests []*sheets.Request
	for _, name := range names {
		if _, ok := meta[name]; !ok {
			requests = append(requests, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: name},
				},
			})
		}
	}

	if len(requests) == 0 {
		return meta, nil
	}

	_, err = w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: requests},
	).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("creating sheets: %w", err)
	}

	return load()
}

func cellFormatReq(sheetID, startRow, endRow, startCol, endCol int64, format *sheets.CellFormat, fields string) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    startRow,
				EndRowIndex:      endRow,
				StartColumnIndex: startCol,
				EndColumnIndex:   endCol,
			},
			Cell:   &sheets.CellData{UserEnteredFormat: format},
			Fields: fields,
		},
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func ptrFloat(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return f
}
