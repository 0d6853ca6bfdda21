package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	domainerrors "github.com/devco/sentinela/internal/domain/errors"
)

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding response body", "error", err)
	}
}

// errorResponse is the JSON envelope for error responses.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RespondError writes a JSON error envelope with the given status code.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, errorResponse{Error: code, Message: message})
}

// RespondDomainError translates a domain error into the matching HTTP status
// and writes it. Unrecognized errors fall back to 500.
func RespondDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case domainerrors.Is(err, domainerrors.KindNotFound):
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
	case domainerrors.Is(err, domainerrors.KindForbidden):
		RespondError(w, http.StatusForbidden, "forbidden", err.Error())
	case domainerrors.Is(err, domainerrors.KindInvalidInput):
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
	case domainerrors.Is(err, domainerrors.KindConflict):
		RespondError(w, http.StatusConflict, "conflict", err.Error())
	case domainerrors.Is(err, domainerrors.KindIllegalState):
		RespondError(w, http.StatusConflict, "illegal_state", err.Error())
	case domainerrors.Is(err, domainerrors.KindUpstreamTransient):
		RespondError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
	case domainerrors.Is(err, domainerrors.KindUpstreamPermanent):
		RespondError(w, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		logger.Error("unhandled error serving admin request", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
