package export

import (
	"context"
	"fmt"

	sheets "google.golang.org/api/sheets/v4"
)

var monitoringHeader = []any{
	"Date", "NAV", "Shares", "Share value", "Daily return",
	"Cumulative return", "Volatility", "Max drawdown", "Degraded",
}

// buildMonitoringRow builds one MONITORING row from the latest ledger row of the report.
// The Degraded column reflects the consolidated snapshot on that date.
func buildMonitoringRow(report Report) []any {
	last := report.Ledger[len(report.Ledger)-1]
	degraded := false
	for _, s := range report.Snapshots {
		if s.Date.Equal(last.Date) {
			degraded = s.Degraded
		}
	}
	return []any{
		last.Date.Format("02.01.2006"),
		toFloat(last.NAV),
		toFloat(last.SharesOutstanding),
		toFloat(last.ShareValue),
		ptrFloat(last.DailyReturn),
		toFloat(last.CumulativeReturn),
		toFloat(report.Stats.Volatility),
		toFloat(report.Stats.MaxDrawdown),
		degraded,
	}
}

// appendMonitoring writes the header row if the sheet is empty, then appends one data
// row for the current run.
func (w *SheetsWriter) appendMonitoring(ctx context.Context, report Report, mon sheetMeta) error {
	existing, err := w.svc.Spreadsheets.Values.Get(
		w.spreadsheetID, sheetMonitoring+"!A1:A1",
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading MONITORING header: %w", err)
	}

	if len(existing.Values) == 0 {
		_, err = w.svc.Spreadsheets.Values.Update(
			w.spreadsheetID,
			sheetMonitoring+"!A1",
			&sheets.ValueRange{Values: [][]any{monitoringHeader}},
		).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("writing MONITORING header: %w", err)
		}
	}

	_, err = w.svc.Spreadsheets.Values.Append(
		w.spreadsheetID,
		sheetMonitoring+"!A:I",
		&sheets.ValueRange{Values: [][]any{buildMonitoringRow(report)}},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending MONITORING row: %w", err)
	}

	if err := w.applyMonitoringFormatting(ctx, mon); err != nil {
		return fmt.Errorf("formatting MONITORING sheet: %w", err)
	}
	return nil
}

// applyMonitoringFormatting gives the MONITORING sheet a bold light-green header, a
// frozen first row and column, and number formats per column.
func (w *SheetsWriter) applyMonitoringFormatting(ctx context.Context, mon sheetMeta) error {
	// #D9EAD3
	lightGreen := &sheets.Color{Red: 0.851, Green: 0.918, Blue: 0.827}
	totalCols := int64(len(monitoringHeader))

	reqs := []*sheets.Request{
		cellFormatReq(mon.id, 0, 1, 0, totalCols,
			&sheets.CellFormat{
				BackgroundColor:     lightGreen,
				TextFormat:          &sheets.TextFormat{Bold: true, FontSize: 9},
				HorizontalAlignment: "CENTER",
				VerticalAlignment:   "MIDDLE",
			},
			"userEnteredFormat(backgroundColor,textFormat,horizontalAlignment,verticalAlignment)"),
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: mon.id,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount:    1,
						FrozenColumnCount: 1,
					},
				},
				Fields: "gridProperties.frozenRowCount,gridProperties.frozenColumnCount",
			},
		},
		cellFormatReq(mon.id, 1, 10000, 0, 1,
			&sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "DATE", Pattern: "d.m.yyyy"}},
			"userEnteredFormat.numberFormat"),
		cellFormatReq(mon.id, 1, 10000, 1, 3,
			&sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "NUMBER", Pattern: "#,##0.00"}},
			"userEnteredFormat.numberFormat"),
		cellFormatReq(mon.id, 1, 10000, 3, 4,
			&sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "NUMBER", Pattern: "0.00000000"}},
			"userEnteredFormat.numberFormat"),
		cellFormatReq(mon.id, 1, 10000, 4, 8,
			&sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "PERCENT", Pattern: "0.00%"}},
			"userEnteredFormat.numberFormat"),
	}

	for _, bid := range mon.bandingIDs {
		reqs = append(reqs, &sheets.Request{
			DeleteBanding: &sheets.DeleteBandingRequest{BandedRangeId: bid},
		})
	}

	_, err := w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: reqs},
	).Context(ctx).Do()
	return err
}
