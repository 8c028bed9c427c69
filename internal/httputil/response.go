// Package httputil holds the JSON response helpers shared by the HTTP
// handlers.
package httputil

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/banshee-data/obdwatch/internal/failure"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteJSONError writes a JSON error response with the given status code and message.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// StatusForKind maps a failure kind onto an HTTP status.
func StatusForKind(k failure.Kind) int {
	switch k {
	case failure.KindTimeout:
		return http.StatusGatewayTimeout
	case failure.KindTransport:
		return http.StatusServiceUnavailable
	case failure.KindQuery:
		return http.StatusBadGateway
	case failure.KindConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteFailure writes err with the status its failure kind maps to.
func WriteFailure(w http.ResponseWriter, err error) {
	k := failure.KindOf(err)
	body := ErrorBody{Error: err.Error()}
	if k != failure.KindUnknown {
		body.Kind = k.String()
	}
	WriteJSON(w, StatusForKind(k), body)
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}

// Conflict writes a 409 Conflict response.
func Conflict(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusConflict, msg)
}
