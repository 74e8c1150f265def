package web

import (
	"encoding/json"
	"net/http"
)

const maxBodyBytes = 1 << 12

type lockRequest struct {
	Locked *bool `json:"locked"`
}

type lockResponse struct {
	Locked bool `json:"locked"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type pirResponse struct {
	PIREnabled bool `json:"pir_enabled"`
}

type notifyResponse struct {
	NotifyEnabled bool `json:"notify_enabled"`
}

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorJSON{Error: msg})
}

// decodeJSON reads a small JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
