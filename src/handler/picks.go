package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/picks"
)

type pickService interface {
	Generate(ctx context.Context, symbols []string) (*picks.Run, error)
	Accept(ctx context.Context, ids []string) ([]model.Position, error)
	Last() *picks.Run
}

type generateRequest struct {
	Symbols []string `json:"symbols"`
}

type acceptRequest struct {
	IDs []string `json:"ids"`
}

// GeneratePicksHandler runs the pick pipeline. An empty body evaluates the
// configured symbols.
func GeneratePicksHandler(svc pickService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
			logger.WithError(err).Warn("invalid generate picks payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		run, err := svc.Generate(r.Context(), req.Symbols)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func LastPicksHandler(svc pickService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		run := svc.Last()
		if run == nil {
			writeError(w, picks.ErrNoRun)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// AcceptPicksHandler opens positions for candidate ids of the last run.
func AcceptPicksHandler(svc pickService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req acceptRequest
		if err := decode(r, &req); err != nil || len(req.IDs) == 0 {
			http.Error(w, "Invalid payload: ids required", http.StatusBadRequest)
			return
		}
		opened, err := svc.Accept(r.Context(), req.IDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, opened)
	}
}
