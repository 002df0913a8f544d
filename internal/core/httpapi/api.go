// Package httpapi implements the REST surface of matchkeeper: record
// evaluation and flow/global context access.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/solatis/matchkeeper/internal/contextstore"
	"github.com/solatis/matchkeeper/internal/core/auth"
	"github.com/solatis/matchkeeper/internal/rules"
)

// API holds the router and its dependencies.
type API struct {
	// Router is the chi multiplexer serving every route.
	Router *chi.Mux

	matcher *rules.Matcher
	stores  map[string]contextstore.Store
	auth    *auth.Authenticator
	timeout time.Duration
	logger  *slog.Logger
}

// Stores are the context scopes exposed under /v1/context.
// A nil scope answers 404.
type Stores struct {
	Flow   contextstore.Store
	Global contextstore.Store
}

// New builds the API. timeout bounds each evaluation; zero disables it.
func New(matcher *rules.Matcher, stores Stores, authn *auth.Authenticator, timeout time.Duration, logger *slog.Logger) (*API, error) {
	if matcher == nil {
		return nil, fmt.Errorf("matcher cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	a := &API{
		Router:  chi.NewRouter(),
		matcher: matcher,
		stores:  make(map[string]contextstore.Store),
		auth:    authn,
		timeout: timeout,
		logger:  logger,
	}
	if stores.Flow != nil {
		a.stores[contextstore.ScopeFlow] = stores.Flow
	}
	if stores.Global != nil {
		a.stores[contextstore.ScopeGlobal] = stores.Global
	}

	a.configureRoutes()
	return a, nil
}

// ServeHTTP makes API an http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.Router.ServeHTTP(w, r)
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/healthz", a.handleHealth)

	a.Router.Route("/v1", func(r chi.Router) {
		r.Use(a.auth.Middleware)

		r.Post("/evaluate", a.handleEvaluate)
		r.Get("/rules", a.handleRules)

		r.Route("/context/{scope}", func(r chi.Router) {
			r.Get("/", a.handleListContext)
			r.Get("/{key}", a.handleGetContext)
			r.Put("/{key}", a.handlePutContext)
			r.Delete("/{key}", a.handleDeleteContext)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// requestLogger logs each completed request: 4xx at warn, 5xx at error.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}
		a.logger.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
