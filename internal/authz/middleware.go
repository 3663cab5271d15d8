package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/shared"
	"github.com/lectern-lms/lectern/internal/users"
)

// UserStore supplies user accounts and administrator grants.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (users.User, error)
	FindByUID(ctx context.Context, uid string) (users.User, error)
	IsAdministrator(ctx context.Context, userID int64) (bool, error)
}

// Middleware builds an authorization snapshot for every request carrying
// course scope in its URL, honoring effective-user overrides stored in
// the session. The snapshot lands in the request context; handlers read
// it and never re-evaluate.
type Middleware struct {
	Builder *Builder
	Users   UserStore
	Courses CourseStore
	Logger  *slog.Logger
	// Now is the request clock; nil means time.Now. Overridable in tests.
	Now func() time.Time
}

func (m Middleware) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Authorize is the chi middleware. Routes must carry a {courseID} URL
// parameter and may carry {courseInstanceID}.
func (m Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sess := shared.SessionFromContext(ctx)
		if sess == nil || sess.User() == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		userID, err := strconv.ParseInt(sess.User(), 10, 64)
		if err != nil {
			m.logError("parse session user id", err)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		authnUser, err := m.Users.FindByID(ctx, userID)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		authnIsAdmin, err := m.Users.IsAdministrator(ctx, authnUser.ID)
		if err != nil {
			m.logError("administrator lookup", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		courseID, err := strconv.ParseInt(chi.URLParam(r, "courseID"), 10, 64)
		if err != nil || courseID == 0 {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		var courseInstanceID int64
		if raw := chi.URLParam(r, "courseInstanceID"); raw != "" {
			courseInstanceID, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				return
			}
		}

		// The requested-uid override is dropped silently when it names the
		// authn user: that is not a "view as", it is a stale session value.
		if sess.Get(shared.RequestedUIDKey) == authnUser.UID {
			sess.Delete(shared.RequestedUIDKey)
		}

		reqDate := m.now()
		reqMode := access.Mode(sess.Get(shared.RequestedModeKey))

		baseline, err := m.Builder.Build(ctx, BuildParams{
			AuthnUser:                  authnUser,
			CourseID:                   courseID,
			CourseInstanceID:           courseInstanceID,
			IsAdministrator:            authnIsAdmin,
			AllowExampleCourseOverride: true,
			IP:                         r.RemoteAddr,
			ReqDate:                    reqDate,
			ReqMode:                    reqMode,
		})
		if err != nil {
			m.logError("build snapshot", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if baseline == nil {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}

		snap := baseline
		if m.hasOverrides(sess) {
			snap, err = m.applyOverrides(w, r, sess, baseline, authnUser, authnIsAdmin, courseID, courseInstanceID, reqDate)
			if err != nil {
				m.logError("apply overrides", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if snap == nil {
				// applyOverrides wrote the response.
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ContextWithSnapshot(ctx, snap)))
	})
}

func (m Middleware) hasOverrides(sess *shared.Session) bool {
	for _, key := range []string{
		shared.RequestedUIDKey,
		shared.RequestedCourseRoleKey,
		shared.RequestedCourseInstanceRoleKey,
		shared.RequestedDateKey,
		shared.RequestedModeKey,
	} {
		if sess.Get(key) != "" {
			return true
		}
	}
	return false
}

// applyOverrides evaluates the effective-user request riding in the
// session. On denial it clears the overrides, writes the response, and
// returns a nil snapshot. Every check enforces the same rule: the
// effective user's permissions must never exceed the authn user's.
func (m Middleware) applyOverrides(
	w http.ResponseWriter, r *http.Request, sess *shared.Session,
	baseline *Snapshot, authnUser users.User, authnIsAdmin bool,
	courseID, courseInstanceID int64, reqDate time.Time,
) (*Snapshot, error) {
	ctx := r.Context()

	deny := func(status int) (*Snapshot, error) {
		sess.ClearRequestedOverrides()
		http.Error(w, http.StatusText(status), status)
		return nil, nil
	}

	// Overrides on the example course are reserved for administrators.
	if baseline.Course.ExampleCourse && !authnIsAdmin {
		return deny(http.StatusForbidden)
	}

	// Only course staff may change the effective user.
	isStaff := baseline.AuthnCourse.Preview ||
		(baseline.AuthnInstance != nil && baseline.AuthnInstance.ViewStudentData)
	if !isStaff {
		return deny(http.StatusForbidden)
	}

	if raw := sess.Get(shared.RequestedDateKey); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return deny(http.StatusForbidden)
		}
		reqDate = parsed
	}

	var courseRoleOverride *CourseRole
	if raw := sess.Get(shared.RequestedCourseRoleKey); raw != "" {
		role := ParseCourseRole(raw)
		if role == CourseRoleNone && raw != CourseRoleNone.String() {
			return deny(http.StatusForbidden)
		}
		courseRoleOverride = &role
	}
	var instanceRoleOverride *CourseInstanceRole
	if raw := sess.Get(shared.RequestedCourseInstanceRoleKey); raw != "" {
		role := ParseCourseInstanceRole(raw)
		if role == CourseInstanceRoleNone && raw != CourseInstanceRoleNone.String() {
			return deny(http.StatusForbidden)
		}
		instanceRoleOverride = &role
	}

	effectiveUser := authnUser
	effectiveIsAdmin := false
	if raw := sess.Get(shared.RequestedUIDKey); raw != "" {
		found, err := m.Users.FindByUID(ctx, raw)
		if err != nil {
			return deny(http.StatusForbidden)
		}
		foundIsAdmin, err := m.Users.IsAdministrator(ctx, found.ID)
		if err != nil {
			return nil, err
		}
		// Assuming an administrator identity requires being one.
		if foundIsAdmin && !authnIsAdmin {
			return deny(http.StatusForbidden)
		}
		effectiveUser = found
		effectiveIsAdmin = foundIsAdmin
	}
	viewingAsOther := effectiveUser.ID != authnUser.ID

	snap, err := m.Builder.Build(ctx, BuildParams{
		AuthnUser:                authnUser,
		EffectiveUser:            &effectiveUser,
		EffectiveIsAdministrator: effectiveIsAdmin,
		CourseID:                 courseID,
		CourseInstanceID:         courseInstanceID,
		IsAdministrator:          authnIsAdmin,
		IP:                       r.RemoteAddr,
		ReqDate:                  reqDate,
		// The effective evaluation runs in the mode already selected for
		// the authn user; view-as never flips the exam gate.
		ReqMode:               baseline.Mode,
		ReqCourseRole:         courseRoleOverride,
		ReqCourseInstanceRole: instanceRoleOverride,
	})
	if err != nil {
		return nil, err
	}
	if snap == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil, nil
	}
	// The rebuild was forced into the baseline's mode, so its reason must
	// be the baseline's too, not "requested".
	snap.ModeReason = baseline.ModeReason

	// Per-level escalation checks: each permission the effective user
	// holds must be one the authn user already holds.
	type levelCheck struct{ effective, authn bool }
	for _, check := range []levelCheck{
		{snap.CoursePerms.Preview, snap.AuthnCourse.Preview},
		{snap.CoursePerms.View, snap.AuthnCourse.View},
		{snap.CoursePerms.Edit, snap.AuthnCourse.Edit},
		{snap.CoursePerms.Own, snap.AuthnCourse.Own},
	} {
		if check.effective && !check.authn {
			return deny(http.StatusForbidden)
		}
	}
	if snap.InstancePerms != nil && snap.AuthnInstance != nil {
		for _, check := range []levelCheck{
			{snap.InstancePerms.ViewStudentData, snap.AuthnInstance.ViewStudentData},
			{snap.InstancePerms.EditStudentData, snap.AuthnInstance.EditStudentData},
		} {
			if check.effective && !check.authn {
				return deny(http.StatusForbidden)
			}
		}
	}

	if viewingAsOther && courseInstanceID != 0 && snap.InstancePerms != nil {
		instructorAccess, err := m.effectiveHasInstructorAccess(ctx, effectiveUser.ID, courseID, courseInstanceID)
		if err != nil {
			return nil, err
		}

		// Emulating an enrolled student requires student-data edit rights.
		if snap.InstancePerms.HasStudentAccessWithEnrollment &&
			!instructorAccess &&
			(snap.AuthnInstance == nil || !snap.AuthnInstance.EditStudentData) {
			return deny(http.StatusForbidden)
		}

		// The effective user must have some relationship to the course
		// instance: staff access or an enrollment with access.
		if !snap.CoursePerms.Preview &&
			!snap.InstancePerms.ViewStudentData &&
			!snap.InstancePerms.HasStudentAccessWithEnrollment {
			return deny(http.StatusForbidden)
		}
	}

	// An instructor viewing their own course as a plain student is treated
	// as enrolled; instructors are not auto-enrolled in their own courses.
	if !viewingAsOther && courseInstanceID != 0 && snap.InstancePerms != nil &&
		!snap.InstancePerms.ViewStudentData && !snap.CoursePerms.View {
		perms := *snap.InstancePerms
		perms.HasStudentAccess = true
		perms.HasStudentAccessWithEnrollment = true
		snap.InstancePerms = &perms
	}

	return snap, nil
}

// effectiveHasInstructorAccess checks the effective user's stored roles
// directly, ignoring any requested role overrides masking them.
func (m Middleware) effectiveHasInstructorAccess(ctx context.Context, userID, courseID, courseInstanceID int64) (bool, error) {
	courseRole, err := m.Courses.CourseRole(ctx, userID, courseID)
	if err != nil {
		return false, err
	}
	if ParseCourseRole(courseRole) >= CourseRolePreviewer {
		return true, nil
	}
	instanceRole, err := m.Courses.CourseInstanceRole(ctx, userID, courseInstanceID)
	if err != nil {
		return false, err
	}
	return ParseCourseInstanceRole(instanceRole) >= CourseInstanceRoleStudentDataViewer, nil
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}
