package web

import (
	"encoding/json"
	"net/http"

	"chat-rooms/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain failures to HTTP statuses. Anything unrecognized is
// an internal error; the sentinel set below is the whole public taxonomy.
func statusFor(err error) int {
	switch err {
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrNotMember:
		return http.StatusForbidden
	case errors.ErrEmptyContent, errors.ErrMissingEmoji,
		errors.ErrDirectRoomMembers, errors.ErrRoomNameRequired,
		errors.ErrInvalidPassword:
		return http.StatusBadRequest
	case errors.ErrUserAlreadyExists:
		return http.StatusConflict
	case errors.ErrInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
