package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"kitty/internal/services"
	"kitty/internal/storage"
)

// decodeJSONBody unmarshals a JSON request body into dst.
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// extractClientIP resolves the caller's address, honoring proxy headers.
func extractClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if comma := strings.Index(ip, ","); comma >= 0 {
			ip = ip[:comma]
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// parseIntParam reads an integer query parameter with a fallback.
func parseIntParam(r *http.Request, name string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// errorResponseFor maps service and storage errors to HTTP responses.
func errorResponseFor(err error) *JSONResponseBuilder {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return BadRequestError(verr.Msg, verr.Field)
	}

	switch {
	case errors.Is(err, storage.ErrGroupNotFound):
		return NotFoundError("group not found")
	case errors.Is(err, storage.ErrEventNotFound):
		return NotFoundError("event not found")
	case errors.Is(err, storage.ErrCategoryNotFound):
		return NotFoundError("expense category not found")
	case errors.Is(err, storage.ErrTxNotFound):
		return NotFoundError("transaction not found")
	default:
		return InternalServerError("internal error")
	}
}
