package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/reconcile"
)

// ErrorResponse is the JSON body of every error answer
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, simplevariant.ErrImageNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, simplevariant.ErrUnknownVariant),
		errors.Is(err, simplevariant.ErrTooManyImages),
		errors.Is(err, simplevariant.ErrDecodeFailed),
		errors.Is(err, simplevariant.ErrEmptyUpload):
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, reconcile.ErrAlreadyRunning),
		errors.Is(err, reconcile.ErrAlreadyStarted),
		errors.Is(err, reconcile.ErrNotStarted):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
