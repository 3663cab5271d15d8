package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/authz"
	"github.com/lectern-lms/lectern/internal/courses"
	"github.com/lectern-lms/lectern/internal/shared"
	"github.com/lectern-lms/lectern/internal/users"
	_ "github.com/lectern-lms/lectern/testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func courseRouter() chi.Router {
	h := NewCourseHandler(testLogger())
	r := chi.NewRouter()
	r.Route("/courses/{courseID}", func(r chi.Router) {
		h.MountRoutes(r)
		r.Route("/instances/{courseInstanceID}", h.MountInstanceRoutes)
	})
	return r
}

func studentSnapshot() *authz.Snapshot {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)
	user := users.User{ID: 2, UID: "student@example.edu", Name: "Sam Student"}
	rule := access.Rule{
		ID: 7, CourseInstanceID: 1000, Number: 1,
		StartDate: &start, EndDate: &end, Credit: 100, Password: "letmein",
	}
	return &authz.Snapshot{
		Course:         courses.Course{ID: 100, ShortName: "TAM 212", Title: "Introductory Dynamics"},
		CourseInstance: &courses.CourseInstance{ID: 1000, CourseID: 100, ShortName: "Sp26", LongName: "Spring 2026"},
		Mode:           access.ModePublic,
		ModeReason:     authz.ModeReasonDefault,
		AuthnUser:      user,
		AuthnCourse:    authz.CoursePermissions{},
		AuthnInstance:  &authz.InstancePermissions{HasStudentAccess: true, HasStudentAccessWithEnrollment: true},
		User:           user,
		CoursePerms:    authz.CoursePermissions{},
		InstancePerms:  &authz.InstancePermissions{HasStudentAccess: true, HasStudentAccessWithEnrollment: true},
		ActiveRule:     &access.Result{Rule: rule, Credit: 100, Password: "letmein"},
		VisibleRules:   []access.Rule{rule},
	}
}

func staffSnapshot() *authz.Snapshot {
	snap := studentSnapshot()
	staff := users.User{ID: 1, UID: "instructor@example.edu", Name: "Ada Instructor"}
	perms := authz.CoursePermissions{CourseRole: authz.CourseRoleOwner, Preview: true, View: true, Edit: true, Own: true}
	snap.AuthnUser = staff
	snap.User = staff
	snap.AuthnCourse = perms
	snap.CoursePerms = perms
	snap.AuthnInstance = &authz.InstancePermissions{
		CourseInstanceRole: authz.CourseInstanceRoleStudentDataEditor,
		ViewStudentData:    true,
		EditStudentData:    true,
	}
	snap.InstancePerms = snap.AuthnInstance
	return snap
}

func doRequest(router chi.Router, method, target, body string, snap *authz.Snapshot, sess *shared.Session) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := req.Context()
	if snap != nil {
		ctx = authz.ContextWithSnapshot(ctx, snap)
	}
	if sess != nil {
		ctx = shared.ContextWithSession(ctx, sess)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestShowCourse(t *testing.T) {
	rec := doRequest(courseRouter(), http.MethodGet, "/courses/100", "", staffSnapshot(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view courseView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.ShortName != "TAM 212" {
		t.Fatalf("shortName = %q", view.ShortName)
	}
	if view.Permissions.CourseRole != "Owner" || !view.Permissions.Own {
		t.Fatalf("permissions = %+v", view.Permissions)
	}
	if view.ViewingAsOther {
		t.Fatal("viewingAsOther should be false")
	}
}

func TestShowCourseInstanceWithholdsRulePassword(t *testing.T) {
	rec := doRequest(courseRouter(), http.MethodGet, "/courses/100/instances/1000", "", studentSnapshot(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "letmein") {
		t.Fatal("rule password leaked into the response body")
	}
	var view courseInstanceView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.ActiveRule == nil || view.ActiveRule.Credit != 100 {
		t.Fatalf("activeRule = %+v", view.ActiveRule)
	}
	if len(view.Rules) != 1 || view.Rules[0].Number != 1 {
		t.Fatalf("rules = %+v", view.Rules)
	}
	if !view.Instance.HasStudentAccessWithEnrollment {
		t.Fatal("expected student access with enrollment")
	}
}

func TestSetEffectiveUserRequiresStaff(t *testing.T) {
	sess := &shared.Session{}
	body := `{"uid":"student@example.edu"}`
	rec := doRequest(courseRouter(), http.MethodPut, "/courses/100/instances/1000/effective-user", body, studentSnapshot(), sess)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if sess.Get(shared.RequestedUIDKey) != "" {
		t.Fatal("override must not be staged for non-staff")
	}
}

func TestSetEffectiveUserStagesOverrides(t *testing.T) {
	sess := &shared.Session{}
	sess.Set(shared.RequestedModeKey, "Exam") // stale value from an earlier view-as
	body := `{"uid":"student@example.edu","courseRole":"Viewer","date":"2026-03-01T12:00:00Z"}`
	rec := doRequest(courseRouter(), http.MethodPut, "/courses/100/instances/1000/effective-user", body, staffSnapshot(), sess)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if got := sess.Get(shared.RequestedUIDKey); got != "student@example.edu" {
		t.Fatalf("requested uid = %q", got)
	}
	if got := sess.Get(shared.RequestedCourseRoleKey); got != "Viewer" {
		t.Fatalf("requested course role = %q", got)
	}
	if sess.Get(shared.RequestedModeKey) != "" {
		t.Fatal("stale mode override must be cleared")
	}
}

func TestSetEffectiveUserRejectsBadDate(t *testing.T) {
	rec := doRequest(courseRouter(), http.MethodPut, "/courses/100/instances/1000/effective-user",
		`{"date":"tomorrow"}`, staffSnapshot(), &shared.Session{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSetEffectiveUserRejectsUnknownRole(t *testing.T) {
	rec := doRequest(courseRouter(), http.MethodPut, "/courses/100/instances/1000/effective-user",
		`{"courseRole":"Sudo"}`, staffSnapshot(), &shared.Session{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestClearEffectiveUser(t *testing.T) {
	sess := &shared.Session{}
	sess.Set(shared.RequestedUIDKey, "student@example.edu")
	sess.Set(shared.RequestedDateKey, "2026-03-01T12:00:00Z")
	rec := doRequest(courseRouter(), http.MethodDelete, "/courses/100/instances/1000/effective-user", "", staffSnapshot(), sess)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if sess.Get(shared.RequestedUIDKey) != "" || sess.Get(shared.RequestedDateKey) != "" {
		t.Fatal("overrides must be cleared")
	}
}
