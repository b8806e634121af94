package httpapi

import (
	"encoding/json"
	"net/http"
)

// ErrorEnvelope standardizes JSON error responses for API namespaces.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Rejection is the 200-level business-rule rejection body. Expected per-row
// failures are not transport errors, so they never surface as 5xx.
type Rejection struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"error_code"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// WriteRejection reports a business-rule rejection with HTTP 200.
func WriteRejection(w http.ResponseWriter, errorCode string) error {
	return WriteJSON(w, http.StatusOK, &Rejection{OK: false, ErrorCode: errorCode})
}
