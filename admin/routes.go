package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
)

// Options configures the router
type Options struct {
	// Prefix is the mount point of action URLs
	Prefix string
	// Secret protects action and admin routes when set
	Secret string
	// Compress gzips responses for clients that accept it
	Compress bool
	// Metrics is served at /metrics when set
	Metrics http.Handler
}

// NewRouter routes every action of the controller behind h under
// opts.Prefix, plus the /admin introspection endpoints
func NewRouter(h *Handlers, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	prefix := normalizePrefix(opts.Prefix)
	routes := h.controller.Routes()
	mount := func(r chi.Router) {
		r.Use(AuthMiddleware(opts.Secret))
		for _, url := range routes {
			r.HandleFunc(url, h.action(url))
		}
	}
	if prefix == "" {
		r.Group(mount)
	} else {
		r.Route(prefix, mount)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(opts.Secret))
		r.Get("/actions", h.handleActions)
		r.Get("/stats", h.handleStats)
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	log.Info().Str("prefix", prefix).Int("actions", len(routes)).Msg("Action routes mounted")

	if opts.Compress {
		return gzhttp.GzipHandler(r)
	}
	return r
}
