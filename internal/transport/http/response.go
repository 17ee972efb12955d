package httptransport

import (
	"encoding/json"
	"net/http"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// badRequest passes validation errors through verbatim: the template
// registry's messages already carry the parameter context the caller needs.
func badRequest(w http.ResponseWriter, err error) {
	writeErr(w, http.StatusBadRequest, err.Error())
}

func notFound(w http.ResponseWriter, what string) {
	writeErr(w, http.StatusNotFound, what+" not found")
}
