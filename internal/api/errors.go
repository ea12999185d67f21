package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harrylevesque/contactbook/internal/auth"
	"github.com/harrylevesque/contactbook/internal/contacts"
	"github.com/harrylevesque/contactbook/internal/files"
	"github.com/harrylevesque/contactbook/internal/media"
	"github.com/harrylevesque/contactbook/internal/utils"
)

var (
	errRouteNotFound    = utils.New(http.StatusNotFound, "Not found")
	errMethodNotAllowed = utils.New(http.StatusMethodNotAllowed, "Method not allowed")
	errBadBody          = utils.New(http.StatusBadRequest, "Invalid request body")
	errFileForbidden    = utils.New(http.StatusForbidden, "You don't have permission to view this file")
)

// errorMessages maps domain errors to the status and static text shown to
// users.
var errorMessages = []struct {
	target  error
	code    int
	message string
}{
	{contacts.ErrNameRequired, http.StatusBadRequest, "Please enter a first and last name."},
	{contacts.ErrInvalidPhone, http.StatusBadRequest, "Please enter a 10-digit phone number."},
	{contacts.ErrNotFound, http.StatusNotFound, "Contact not found"},
	{contacts.ErrForbidden, http.StatusForbidden, "You don't have permission to view this contact"},
	{contacts.ErrNoOwner, http.StatusUnauthorized, "Please sign in again"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
	{auth.ErrUserNotFound, http.StatusUnauthorized, "Invalid email or password"},
	{auth.ErrEmailTaken, http.StatusConflict, "An account with this email already exists"},
	{auth.ErrInvalidEmail, http.StatusBadRequest, "Please enter a valid email address"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "Password is too short"},
	{auth.ErrSessionNotFound, http.StatusUnauthorized, "Please sign in again"},
	{auth.ErrSessionExpired, http.StatusUnauthorized, "Your session has expired, please sign in again"},
	{media.ErrLocalFileDenied, http.StatusBadRequest, "Images must be sent inline or as a URL"},
	{media.ErrInvalidDataURI, http.StatusBadRequest, "Invalid image data"},
	{files.ErrNotFound, http.StatusNotFound, "File not found"},
	{files.ErrInvalidPath, http.StatusBadRequest, "Invalid file path"},
}

// toCustom converts err into the CustomError sent to clients.
func toCustom(err error) *utils.CustomError {
	for _, m := range errorMessages {
		if errors.Is(err, m.target) {
			return &utils.CustomError{Code: m.code, Message: m.message}
		}
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return &utils.CustomError{Code: http.StatusRequestEntityTooLarge, Message: "Request is too large"}
	}
	return utils.AsCustom(err)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	ce := toCustom(err)
	if ce.Code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, ce.Code, errorBody{Error: ce.Message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
