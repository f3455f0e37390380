package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// ErrEmptyBody is returned when a JSON body is required but absent
var ErrEmptyBody = errors.New("request body is required")

// DecodeJSON decodes exactly one JSON value from the request body into dest.
// Unknown fields and trailing data are rejected.
func DecodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return ErrEmptyBody
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return ErrEmptyBody
		case errors.As(err, &maxErr):
			return maxErr
		default:
			return fmt.Errorf("invalid JSON: %w", err)
		}
	}
	if dec.More() {
		return errors.New("invalid JSON: unexpected data after the request object")
	}
	return nil
}

// ParseJSONOrError decodes the body into dest. On failure it writes a 400, or
// a 413 when the body exceeded the size limit, and returns false.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest any) bool {
	err := DecodeJSON(r, dest)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		WriteErrorMessage(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return false
	}
	WriteBadRequest(w, err.Error())
	return false
}

// PathParam returns a trimmed mux path variable
func PathParam(r *http.Request, key string) (string, error) {
	val := strings.TrimSpace(mux.Vars(r)[key])
	if val == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return val, nil
}

// ParsePathStringOrError returns a path variable or writes a 400
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := PathParam(r, key)
	if err != nil {
		WriteFieldError(w, key, err)
		return "", false
	}
	return val, true
}

// ParseQueryString returns a trimmed query parameter or defaultVal
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := strings.TrimSpace(r.URL.Query().Get(key)); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryBool parses a boolean query parameter. Absent means defaultVal.
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	raw := ParseQueryString(r, key, "")
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("query parameter %s must be true or false, got %q", key, raw)
	}
	return val, nil
}

// ParseQueryInt reads a positive integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := ParseQueryString(r, key, "")
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("query parameter %s must be a positive integer, got %q", key, raw)
	}
	return val, nil
}
