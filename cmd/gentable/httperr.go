package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gentable/engine/internal/engineerr"
)

// writeError maps err onto an HTTP status per the observable-effect
// taxonomy in §7, and writes a small JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engineerr.ErrBadInput):
		status = http.StatusBadRequest
	case errors.Is(err, engineerr.ErrUpgradeTier):
		status = http.StatusForbidden
	case errors.Is(err, engineerr.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.Is(err, engineerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engineerr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, engineerr.ErrCancelled):
		status = 499 // client closed request, nginx convention
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
