package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/lectern-lms/lectern/internal/api"
	"github.com/lectern-lms/lectern/internal/auth"
	"github.com/lectern-lms/lectern/internal/authz"
	"github.com/lectern-lms/lectern/internal/shared"
	"github.com/lectern-lms/lectern/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthHandler       *auth.Handler
	CourseHandler     *api.CourseHandler
	EnrollmentHandler *api.EnrollmentHandler
	JobHandler        *jobs.Handler
	AuthzMiddleware   authz.Middleware
}

// NewRouter constructs the chi.Router with Lectern defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	loginRate := 10
	if params.Config != nil && params.Config.LoginRatePerMinute > 0 {
		loginRate = params.Config.LoginRatePerMinute
	}
	r.Route("/auth", func(r chi.Router) {
		// Tighter limit on credential guessing than the global one.
		r.Use(httprate.Limit(loginRate, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		params.AuthHandler.MountRoutes(r)
	})

	// The authorization middleware reads both scope params from the URL,
	// so the instance routes live on their own subrouter: chi resolves a
	// pattern's params before the subrouter's middleware runs, and the
	// flat form would leave {courseInstanceID} unset at Authorize time.
	r.Route("/courses/{courseID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(params.AuthzMiddleware.Authorize)
			params.CourseHandler.MountRoutes(r)
		})
		r.Route("/instances/{courseInstanceID}", func(r chi.Router) {
			r.Use(params.AuthzMiddleware.Authorize)
			params.CourseHandler.MountInstanceRoutes(r)
			if params.EnrollmentHandler != nil {
				params.EnrollmentHandler.MountRoutes(r)
			}
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
