// Package admin serves pack actions over HTTP.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/pack"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds form and JSON request bodies
const maxBodyBytes = 10 << 20

// Handlers dispatches HTTP requests to the actions of a controller
type Handlers struct {
	controller *pack.Controller
}

// NewHandlers creates Handlers for c
func NewHandlers(c *pack.Controller) *Handlers {
	return &Handlers{controller: c}
}

// action returns the handler running the action bound to url
func (h *Handlers) action(url string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := requestParams(r)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := h.controller.Dispatch(r.Context(), url, observer.Request{HTTP: r, Params: params})
		if err != nil {
			status := errorStatus(err)
			if status == http.StatusInternalServerError {
				log.Error().Err(err).Str("url", url).Msg("Action failed")
			}
			writeErrorResponse(w, status, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, res.Payload())
	}
}

func errorStatus(err error) int {
	var contextErr *pack.ContextError
	switch {
	case errors.Is(err, observer.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, pack.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &contextErr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// requestParams merges the query string, the form body and a JSON object
// body. Later sources win. Repeated keys become lists.
func requestParams(r *http.Request) (map[string]any, error) {
	params := make(map[string]any)
	for k, v := range r.URL.Query() {
		params[k] = flatten(v)
	}
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return params, nil
	}

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch contentType {
	case "application/json":
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		for k, v := range body {
			if n, ok := v.(json.Number); ok {
				v = n.String()
			}
			params[k] = v
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		for k, v := range r.MultipartForm.Value {
			params[k] = flatten(v)
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		for k, v := range r.PostForm {
			params[k] = flatten(v)
		}
	}
	return params, nil
}

func flatten(values []string) any {
	if len(values) == 1 {
		return values[0]
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// writeJSONResponse writes payload as JSON
func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}
