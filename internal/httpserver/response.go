package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	authdomain "marketplace/identity/internal/domain/auth"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

var codeStatus = map[string]int{
	authdomain.ErrInvalidCredentials.Code:      http.StatusUnauthorized,
	authdomain.ErrTokenInvalid.Code:            http.StatusUnauthorized,
	authdomain.ErrRefreshTokenRevoked.Code:     http.StatusUnauthorized,
	authdomain.ErrRefreshTokenOwnership.Code:   http.StatusForbidden,
	authdomain.ErrRoleNotAssignable.Code:       http.StatusForbidden,
	authdomain.ErrCustomerProfileRequired.Code: http.StatusForbidden,
	authdomain.ErrForbidden.Code:               http.StatusForbidden,
	authdomain.ErrEmailExists.Code:             http.StatusConflict,
	authdomain.ErrUserNotFound.Code:            http.StatusNotFound,
}

// writeServiceError maps a use-case error to a status and JSON body.
// Unexpected failures are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var coded *authdomain.Error
	if errors.As(err, &coded) {
		status, ok := codeStatus[coded.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Code: coded.Code})
		return
	}

	switch {
	case errors.Is(err, authdomain.ErrInvalidRole),
		errors.Is(err, authdomain.ErrInvalidEmail),
		errors.Is(err, authdomain.ErrWeakPassword),
		errors.Is(err, authdomain.ErrInvalidBirthYear),
		errors.Is(err, authdomain.ErrPasswordMismatch),
		errors.Is(err, authdomain.ErrPasswordUnchanged):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authdomain.ErrProfileExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

const maxBodyBytes = 1 << 20

func jsonDecoder(r *http.Request) *json.Decoder {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
}

// decodeJSON reads a JSON body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := jsonDecoder(r).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}
