package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeError renders a core error. Persistence details go to the log only.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := statusFor(model.KindOf(err))
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "err", err)
	}
	writeErrorCode(w, status, code, model.Message(err))
}

func statusFor(kind model.Kind) (int, string) {
	switch kind {
	case model.KindInvalidInput:
		return http.StatusBadRequest, "INVALID_INPUT"
	case model.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case model.KindConflict:
		return http.StatusConflict, "CONFLICT"
	case model.KindInvalidTransition:
		return http.StatusConflict, "INVALID_TRANSITION"
	case model.KindUnauthorized:
		return http.StatusForbidden, "FORBIDDEN"
	case model.KindTokenInvalid, model.KindTokenAlreadyUsed:
		return http.StatusBadRequest, "INVALID_TOKEN"
	case model.KindAlreadyReviewed:
		return http.StatusConflict, "ALREADY_REVIEWED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func methodNotAllowed(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func badRequest(w http.ResponseWriter, msg string) {
	writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", msg)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
