package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/honganh1206/streamchat/conversation"
)

const maxBodyBytes = 1 << 20

var (
	ErrBadRequest       = errors.New("bad request")
	ErrStreamingOff     = errors.New("streaming disabled")
	ErrFlushUnsupported = errors.New("response writer cannot flush")
)

type HTTPError struct {
	Code    int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func handleError(w http.ResponseWriter, err error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code >= http.StatusInternalServerError {
			slog.Error("server: request failed", "error", err)
		}
		writeError(w, httpErr.Code, httpErr.Message)
		return
	}

	if errors.Is(err, conversation.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	slog.Error("server: request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &HTTPError{Code: http.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	return nil
}
