package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lectern-lms/lectern/internal/authz"
	"github.com/lectern-lms/lectern/internal/enrollments"
	"github.com/lectern-lms/lectern/internal/platform/httpx"
	"github.com/lectern-lms/lectern/jobs"
)

// EnrollmentHandler serves self-enrollment.
type EnrollmentHandler struct {
	logger  *slog.Logger
	service *enrollments.Service
	jobs    *jobs.Client
}

// NewEnrollmentHandler builds an EnrollmentHandler instance. The jobs
// client may be nil; enrollment then skips the audit enqueue.
func NewEnrollmentHandler(logger *slog.Logger, service *enrollments.Service, jobClient *jobs.Client) *EnrollmentHandler {
	return &EnrollmentHandler{logger: logger, service: service, jobs: jobClient}
}

// MountRoutes registers enrollment routes. The caller mounts these under
// /courses/{courseID}/instances/{courseInstanceID} with the authorization
// middleware applied.
func (h *EnrollmentHandler) MountRoutes(r chi.Router) {
	r.Post("/enroll", h.enroll)
}

// enroll enrolls the authenticated user in the course instance. The
// effective user never enrolls: staff previewing as a student must drop
// the override first, so an emulated identity cannot be signed up.
func (h *EnrollmentHandler) enroll(w http.ResponseWriter, r *http.Request) {
	snap := authz.SnapshotFromContext(r.Context())
	if snap == nil || snap.CourseInstance == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if snap.ViewingAsOther() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "cannot enroll while viewing as another user")
		return
	}
	// Enrollment requires a currently open access window for this user.
	if snap.ActiveRule == nil {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "course instance is not open for enrollment")
		return
	}

	enrollment, err := h.service.Enroll(r.Context(), snap.AuthnUser.ID, snap.CourseInstance.ID)
	switch {
	case errors.Is(err, enrollments.ErrLimitReached):
		httpx.Problem(w, http.StatusConflict, "Enrollment Limit Reached", "the course instance is full")
		return
	case err != nil:
		h.logger.Error("enroll", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	if h.jobs != nil {
		if _, err := h.jobs.EnqueueEnrollmentAudit(r.Context(), time.Now().UTC()); err != nil {
			h.logger.Warn("enqueue enrollment audit", slog.Any("error", err))
		}
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"enrollmentId":     enrollment.ID,
		"courseInstanceId": enrollment.CourseInstanceID,
		"createdAt":        enrollment.CreatedAt,
	})
}
