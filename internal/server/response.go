// Package server provides the HTTP server, router, middleware, and JSON
// response helpers for the Mithril Engine.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Pagination defaults shared by every list endpoint.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// FieldError represents a single field-level validation error in an API
// response. Field is a dotted payload path such as "sections[1].heading".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PaginationMeta holds pagination metadata for list responses.
type PaginationMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPaginationMeta computes the page count of total items split into pages
// of perPage.
func NewPaginationMeta(page, perPage, total int) PaginationMeta {
	m := PaginationMeta{Page: page, PerPage: perPage, Total: total}
	if perPage > 0 {
		m.TotalPages = (total + perPage - 1) / perPage
	}
	return m
}

// ParsePagination reads page and per_page from the query string. Missing or
// invalid values fall back to page 1 and DefaultPerPage; per_page is capped
// at MaxPerPage.
func ParsePagination(r *http.Request) (page, perPage int) {
	page, perPage = 1, DefaultPerPage
	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		page = n
	}
	if n, err := strconv.Atoi(q.Get("per_page")); err == nil && n > 0 {
		perPage = min(n, MaxPerPage)
	}
	return page, perPage
}

// ErrorBody is the inner structure of an error response.
type ErrorBody struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// dataEnvelope wraps successful responses; Meta is only set on lists.
type dataEnvelope struct {
	Data any             `json:"data"`
	Meta *PaginationMeta `json:"meta,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON writes {"data": data} with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataEnvelope{Data: data})
}

// Error writes {"error": {...}} with the given status code, error code,
// message, and optional field-level details.
func Error(w http.ResponseWriter, status int, code string, message string, details []FieldError) {
	writeJSON(w, status, errorEnvelope{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Paginated writes a 200 list response with pagination metadata.
func Paginated(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, dataEnvelope{Data: data, Meta: &meta})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent.
		slog.Error("failed to encode JSON response", "error", err)
	}
}
