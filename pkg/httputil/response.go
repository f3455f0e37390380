package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error reply. Field names the offending
// request field; Details carries structured context such as conflicts or
// partial-write counts.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// internalMessage replaces server-side error text in 500 replies
const internalMessage = "internal server error"

// WriteJSON encodes data and writes it with status. Encoding happens before
// the header is sent so a marshal failure becomes a 500 instead of a
// truncated success.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		writeRaw(w, http.StatusInternalServerError, []byte(`{"error":"`+internalMessage+`"}`+"\n"))
		return err
	}
	writeRaw(w, status, buf.Bytes())
	return nil
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	// Responses describe account permissions
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(body)
}

// WriteErrorMessage writes an error reply with message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteDetailedError writes an error reply carrying structured details
func WriteDetailedError(w http.ResponseWriter, status int, err error, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error(), Details: details})
}

// WriteFieldError writes a 400 naming the offending field
func WriteFieldError(w http.ResponseWriter, field string, err error) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: field})
}

// WriteBadRequest writes a 400
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteNotFoundError writes a 404
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteConflict writes a 409
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusConflict, message)
}

// WriteInternalError writes a 500. The error text is never sent to the
// client; callers log it.
func WriteInternalError(w http.ResponseWriter, _ error) {
	WriteErrorMessage(w, http.StatusInternalServerError, internalMessage)
}

// WriteSuccess writes a 200 with data
func WriteSuccess(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 with data
func WriteCreated(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a bodiless 204
func WriteNoContent(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}
