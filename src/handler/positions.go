package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/portfolio"
)

type positionLedger interface {
	List(ctx context.Context, status string, limit int) ([]model.Position, error)
	Get(ctx context.Context, id uint) (*model.Position, error)
	Open(ctx context.Context, req portfolio.OpenRequest) (*model.Position, error)
	Close(ctx context.Context, id uint, exitPrice float64, note string) (float64, error)
}

type closeRequest struct {
	ExitPrice float64 `json:"exit_price"`
	Note      string  `json:"note"`
}

type closeResponse struct {
	ID       uint            `json:"id"`
	PnL      float64         `json:"pnl"`
	Position *model.Position `json:"position,omitempty"`
}

// ListPositionsHandler lists positions, optionally filtered by ?status= and
// bounded by ?limit=.
func ListPositionsHandler(ledger positionLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		positions, err := ledger.List(r.Context(), r.URL.Query().Get("status"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if positions == nil {
			positions = []model.Position{}
		}
		writeJSON(w, http.StatusOK, positions)
	}
}

func GetPositionHandler(ledger positionLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := positionID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		p, err := ledger.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// OpenPositionHandler records a position the user has taken manually.
func OpenPositionHandler(ledger positionLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req portfolio.OpenRequest
		if err := decode(r, &req); err != nil {
			logger.WithError(err).Warn("invalid open position payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if req.Note == "" {
			req.Note = portfolio.NoteManual
		}
		p, err := ledger.Open(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func ClosePositionHandler(ledger positionLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := positionID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req closeRequest
		if err := decode(r, &req); err != nil {
			logger.WithError(err).Warn("invalid close position payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if req.Note == "" {
			req.Note = portfolio.NoteManual
		}

		pnl, err := ledger.Close(r.Context(), id, req.ExitPrice, req.Note)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := closeResponse{ID: id, PnL: pnl}
		if p, err := ledger.Get(r.Context(), id); err == nil {
			resp.Position = p
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func positionID(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid position id %q", portfolio.ErrInvalidInput, raw)
	}
	return uint(id), nil
}
