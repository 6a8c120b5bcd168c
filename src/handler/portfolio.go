package handler

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/portfolio"
)

type portfolioLedger interface {
	OpenPositions(ctx context.Context) ([]model.Position, error)
	Snapshot(ctx context.Context, capital float64, prices map[string]float64) (*portfolio.Snapshot, error)
	AutoClose(ctx context.Context, prices map[string]float64) ([]portfolio.AutoCloseResult, error)
}

type refreshResponse struct {
	Closed   []portfolio.AutoCloseResult `json:"closed"`
	Snapshot *portfolio.Snapshot         `json:"snapshot"`
}

// PortfolioHandler values the open positions at live prices.
func PortfolioHandler(ledger portfolioLedger, prices portfolio.PriceSource, capital float64) http.HandlerFunc {
	log := logrus.WithField("handler", "portfolio")
	return func(w http.ResponseWriter, r *http.Request) {
		open, err := ledger.OpenPositions(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		snap, err := ledger.Snapshot(r.Context(), capital, portfolio.MarkPrices(r.Context(), open, prices, log))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// RefreshHandler closes positions whose target or stop was reached and
// returns the updated snapshot.
func RefreshHandler(ledger portfolioLedger, prices portfolio.PriceSource, capital float64) http.HandlerFunc {
	log := logrus.WithField("handler", "refresh")
	return func(w http.ResponseWriter, r *http.Request) {
		open, err := ledger.OpenPositions(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		marks := portfolio.MarkPrices(r.Context(), open, prices, log)
		closed, err := ledger.AutoClose(r.Context(), marks)
		if err != nil {
			writeError(w, err)
			return
		}
		snap, err := ledger.Snapshot(r.Context(), capital, marks)
		if err != nil {
			writeError(w, err)
			return
		}
		if closed == nil {
			closed = []portfolio.AutoCloseResult{}
		}
		writeJSON(w, http.StatusOK, refreshResponse{Closed: closed, Snapshot: snap})
	}
}
