package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/picks"
	"signalengine/src/portfolio"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// writeError maps domain errors to status codes; anything unknown is a 500
// and its message is not exposed.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		msg = "Internal Server Error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, portfolio.ErrInvalidInput),
		errors.Is(err, picks.ErrNoSymbols):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrPositionNotFound),
		errors.Is(err, picks.ErrUnknownCandidate):
		return http.StatusNotFound
	case errors.Is(err, portfolio.ErrInvalidState),
		errors.Is(err, picks.ErrAlreadyAccepted),
		errors.Is(err, picks.ErrNoRun):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
