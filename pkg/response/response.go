package response

import (
	"encoding/json"
	"net/http"

	"ledger-service/pkg/xerrors"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Kind    xerrors.Kind `json:"kind"`
	Message string       `json:"message"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Success: true,
		Data:    data,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func Error(w http.ResponseWriter, status int, kind xerrors.Kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Success: false,
		Error:   &APIError{Kind: kind, Message: msg},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Fail writes err with the status mapped from its kind.
func Fail(w http.ResponseWriter, err error) {
	kind := xerrors.KindOf(err)
	Error(w, StatusFor(kind), kind, xerrors.Message(err))
}

func StatusFor(kind xerrors.Kind) int {
	switch kind {
	case xerrors.KindValidation:
		return http.StatusBadRequest
	case xerrors.KindNotFound:
		return http.StatusNotFound
	case xerrors.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case xerrors.KindAuthorization:
		return http.StatusForbidden
	case xerrors.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
