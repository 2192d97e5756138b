package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/snapshot"
)

const maxRangeDays = 366

// SnapshotService reads and generates portfolio snapshots.
type SnapshotService interface {
	Generate(ctx context.Context, key domain.SnapshotKey) (snapshot.Result, error)
	Get(ctx context.Context, key domain.SnapshotKey) (domain.PortfolioSnapshot, error)
	ListByDate(ctx context.Context, userID string, date time.Time) ([]domain.PortfolioSnapshot, error)
	ListConsolidated(ctx context.Context, userID string, r domain.DateRange) ([]domain.PortfolioSnapshot, error)
}

// LedgerReader reads the quota ledger.
type LedgerReader interface {
	List(ctx context.Context, userID string, r domain.DateRange) ([]domain.FundShare, error)
}

// PriceReader answers latest-price lookups.
type PriceReader interface {
	LatestPrice(ctx context.Context, asset domain.AssetID) (domain.LatestPrice, error)
}

// Handler provides HTTP endpoints over snapshots and the quota ledger.
type Handler struct {
	snapshots SnapshotService
	ledger    LedgerReader
	prices    PriceReader
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(snapshots SnapshotService, ledger LedgerReader, prices PriceReader) *Handler {
	return &Handler{snapshots: snapshots, ledger: ledger, prices: prices, now: time.Now}
}

// GetSnapshots handles GET /api/v1/users/{user}/snapshots?date=&account=.
// Without account it returns every row stored for the date, consolidated row included.
func (h *Handler) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	date, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}

	if account := r.URL.Query().Get("account"); account != "" {
		s, err := h.snapshots.Get(r.Context(), domain.SnapshotKey{UserID: user, Date: date, AccountID: account})
		if err != nil {
			h.fail(w, err, "snapshot not found")
			return
		}
		writeJSON(w, http.StatusOK, s)
		return
	}

	snaps, err := h.snapshots.ListByDate(r.Context(), user, date)
	if err != nil {
		h.fail(w, err, "")
		return
	}
	if len(snaps) == 0 {
		writeError(w, http.StatusNotFound, "no snapshots for date")
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// ListConsolidated handles GET /api/v1/users/{user}/snapshots/consolidated?from=&to=.
func (h *Handler) ListConsolidated(w http.ResponseWriter, r *http.Request) {
	dr, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	snaps, err := h.snapshots.ListConsolidated(r.Context(), r.PathValue("user"), dr)
	if err != nil {
		h.fail(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(snaps))
}

// ListFundShares handles GET /api/v1/users/{user}/fund-shares?from=&to=.
func (h *Handler) ListFundShares(w http.ResponseWriter, r *http.Request) {
	dr, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	rows, err := h.ledger.List(r.Context(), r.PathValue("user"), dr)
	if err != nil {
		h.fail(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

// GetLatestPrice handles GET /api/v1/assets/{asset}/price.
func (h *Handler) GetLatestPrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.prices.LatestPrice(r.Context(), domain.AssetID(r.PathValue("asset")))
	if err != nil {
		h.fail(w, err, "no price available")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GenerateSnapshot handles POST /api/v1/users/{user}/snapshots/generate?date=&account=.
func (h *Handler) GenerateSnapshot(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}
	key := domain.SnapshotKey{UserID: r.PathValue("user"), Date: date, AccountID: r.URL.Query().Get("account")}

	res, err := h.snapshots.Generate(r.Context(), key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, domain.ErrDegradedSnapshot):
		// Account rows were still written.
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "result": res})
	default:
		h.fail(w, err, "")
	}
}

// fail maps domain errors to status codes. notFound overrides the 404 message.
func (h *Handler) fail(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPriceUnavailable):
		if notFound == "" {
			notFound = "not found"
		}
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, domain.ErrConcurrentRecomputation), errors.Is(err, domain.ErrStaleDownstreamSnapshots):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrProviderFetchFailed):
		slog.Warn("provider failure", "error", err)
		writeError(w, http.StatusBadGateway, "market data provider unavailable")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// dateParam parses a YYYY-MM-DD query parameter, defaulting to today.
func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return domain.Day(h.now()), true
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

// rangeParams parses from/to. to defaults to today and from to 30 days before to.
func (h *Handler) rangeParams(w http.ResponseWriter, r *http.Request) (domain.DateRange, bool) {
	to, ok := h.dateParam(w, r, "to")
	if !ok {
		return domain.DateRange{}, false
	}
	from := to.AddDate(0, 0, -30)
	if r.URL.Query().Get("from") != "" {
		if from, ok = h.dateParam(w, r, "from"); !ok {
			return domain.DateRange{}, false
		}
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return domain.DateRange{}, false
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		writeError(w, http.StatusBadRequest, "range exceeds 366 days")
		return domain.DateRange{}, false
	}
	return domain.NewDateRange(from, to), true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
