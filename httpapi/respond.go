package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"collabflow/collaboration"
	"collabflow/contract"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeDomainError maps engine and contract errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collaboration.ErrCollaborationNotFound), errors.Is(err, contract.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, collaboration.ErrActionNotPermitted):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, collaboration.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "CONCURRENT_MODIFICATION", err.Error())
	case errors.Is(err, collaboration.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, collaboration.ErrContractNotFullySigned):
		writeError(w, http.StatusConflict, "CONTRACT_NOT_FULLY_SIGNED", err.Error())
	case errors.Is(err, collaboration.ErrInvalidAmount),
		errors.Is(err, collaboration.ErrInvalidDetails),
		errors.Is(err, collaboration.ErrInvalidInput),
		errors.Is(err, collaboration.ErrUnknownAction),
		errors.Is(err, contract.ErrInvalidRequest),
		errors.Is(err, contract.ErrUnknownParty):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		log.Printf("[httpapi] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
