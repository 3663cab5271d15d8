package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/lectern-lms/lectern/internal/shared"
	"github.com/lectern-lms/lectern/internal/users"
	_ "github.com/lectern-lms/lectern/testing"
)

type fakeUserStore struct {
	byID   map[int64]users.User
	byUID  map[string]users.User
	admins map[int64]bool
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byID:   make(map[int64]users.User),
		byUID:  make(map[string]users.User),
		admins: make(map[int64]bool),
	}
}

func (f *fakeUserStore) add(u users.User) {
	f.byID[u.ID] = u
	f.byUID[u.UID] = u
}

func (f *fakeUserStore) FindByID(ctx context.Context, id int64) (users.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) FindByUID(ctx context.Context, uid string) (users.User, error) {
	u, ok := f.byUID[uid]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) IsAdministrator(ctx context.Context, userID int64) (bool, error) {
	return f.admins[userID], nil
}

type mwFixture struct {
	*fixture
	userStore *fakeUserStore
	sessions  *shared.SessionManager
	router    http.Handler
	captured  *Snapshot
}

func newMWFixture(t *testing.T) *mwFixture {
	t.Helper()
	mf := &mwFixture{fixture: newFixture(), userStore: newFakeUserStore()}
	mf.userStore.add(mf.instructor)
	mf.userStore.add(mf.student)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mf.sessions = shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)

	mw := Middleware{
		Builder: mf.builder,
		Users:   mf.userStore,
		Courses: mf.store,
		Now:     func() time.Time { return midterm },
	}

	capture := func(w http.ResponseWriter, req *http.Request) {
		mf.captured = SnapshotFromContext(req.Context())
		w.WriteHeader(http.StatusOK)
	}
	// Instance routes sit on their own subrouter so both scope params are
	// resolved before Authorize runs, mirroring the production router.
	r := chi.NewRouter()
	r.Route("/courses/{courseID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mw.Authorize)
			r.Get("/", capture)
		})
		r.Route("/instances/{courseInstanceID}", func(r chi.Router) {
			r.Use(mw.Authorize)
			r.Get("/", capture)
		})
	})
	mf.router = r
	return mf
}

// get runs a request as the given user, with optional session overrides
// staged before the request.
func (mf *mwFixture) get(t *testing.T, path string, user users.User, overrides map[string]string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	sess, err := mf.sessions.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if user.ID != 0 {
		sess.SetUser(strconv.FormatInt(user.ID, 10))
	}
	for key, value := range overrides {
		sess.Set(key, value)
	}
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	res := httptest.NewRecorder()
	mf.captured = nil
	mf.router.ServeHTTP(res, req)
	return res, sess
}

func TestAuthorizeRequiresLogin(t *testing.T) {
	mf := newMWFixture(t)

	res, _ := mf.get(t, "/courses/100", users.User{}, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestAuthorizeUnknownCourseIs404(t *testing.T) {
	mf := newMWFixture(t)

	res, _ := mf.get(t, "/courses/999", mf.student, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestAuthorizeStudentRequest(t *testing.T) {
	mf := newMWFixture(t)

	res, _ := mf.get(t, "/courses/100/instances/1000", mf.student, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	snap := mf.captured
	if snap == nil {
		t.Fatalf("expected snapshot in context")
	}
	if snap.CourseInstance == nil || snap.CourseInstance.ID != 1000 {
		t.Fatalf("expected instance scope in snapshot, got %+v", snap.CourseInstance)
	}
	if snap.ViewingAsOther() {
		t.Fatalf("expected effective user to be the authn user")
	}
	if snap.InstancePerms == nil || !snap.InstancePerms.HasStudentAccess {
		t.Fatalf("expected student access")
	}
}

func TestAuthorizeOverridesRequireStaff(t *testing.T) {
	mf := newMWFixture(t)

	res, sess := mf.get(t, "/courses/100/instances/1000", mf.student, map[string]string{
		shared.RequestedUIDKey: mf.instructor.UID,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if sess.Get(shared.RequestedUIDKey) != "" {
		t.Fatalf("expected overrides cleared after denial")
	}
}

func TestAuthorizeModeOverrideRequiresStaff(t *testing.T) {
	mf := newMWFixture(t)
	// Forcing exam-mode evaluation changes which access rules match, so a
	// mode override carried alone is still a staff-only request.
	res, sess := mf.get(t, "/courses/100/instances/1000", mf.student, map[string]string{
		shared.RequestedModeKey: "Exam",
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if sess.Get(shared.RequestedModeKey) != "" {
		t.Fatalf("expected mode override cleared after denial")
	}
}

func TestAuthorizeModeOverrideForStaff(t *testing.T) {
	mf := newMWFixture(t)

	res, _ := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedModeKey: "Exam",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	snap := mf.captured
	if snap.Mode != "Exam" || snap.ModeReason != ModeReasonRequested {
		t.Fatalf("expected requested Exam mode, got %s (%s)", snap.Mode, snap.ModeReason)
	}
}

func TestAuthorizeViewAsStudent(t *testing.T) {
	mf := newMWFixture(t)

	res, _ := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedUIDKey: mf.student.UID,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	snap := mf.captured
	if snap == nil || !snap.ViewingAsOther() {
		t.Fatalf("expected view-as snapshot")
	}
	if snap.User.ID != mf.student.ID || snap.AuthnUser.ID != mf.instructor.ID {
		t.Fatalf("expected effective student, authn instructor")
	}
	if snap.CoursePerms.CourseRole != CourseRoleNone {
		t.Fatalf("expected effective course role None, got %s", snap.CoursePerms.CourseRole)
	}
	if snap.AuthnCourse.CourseRole != CourseRoleOwner {
		t.Fatalf("expected authn course role Owner, got %s", snap.AuthnCourse.CourseRole)
	}
}

func TestAuthorizeStudentEmulationNeedsEditor(t *testing.T) {
	mf := newMWFixture(t)
	// A viewer-level staff member may look at data but not emulate an
	// enrolled student.
	viewerStaff := users.User{ID: 4, UID: "viewer@example.com"}
	mf.userStore.add(viewerStaff)
	mf.store.instanceRoles[roleKey{viewerStaff.ID, 1000}] = "Student Data Viewer"

	res, sess := mf.get(t, "/courses/100/instances/1000", viewerStaff, map[string]string{
		shared.RequestedUIDKey: mf.student.UID,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if sess.Get(shared.RequestedUIDKey) != "" {
		t.Fatalf("expected overrides cleared after denial")
	}
}

func TestAuthorizeRequestedSelfIsDropped(t *testing.T) {
	mf := newMWFixture(t)

	res, sess := mf.get(t, "/courses/100/instances/1000", mf.student, map[string]string{
		shared.RequestedUIDKey: mf.student.UID,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if mf.captured == nil || mf.captured.ViewingAsOther() {
		t.Fatalf("expected plain snapshot after dropping self-referential uid")
	}
	if sess.Get(shared.RequestedUIDKey) != "" {
		t.Fatalf("expected stale uid removed from session")
	}
}

func TestAuthorizeCannotAssumeAdministrator(t *testing.T) {
	mf := newMWFixture(t)
	adminUser := users.User{ID: 5, UID: "admin@example.com"}
	mf.userStore.add(adminUser)
	mf.userStore.admins[adminUser.ID] = true

	res, _ := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedUIDKey: adminUser.UID,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestAuthorizeInvalidRequestedDate(t *testing.T) {
	mf := newMWFixture(t)

	res, sess := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedDateKey: "not-a-date",
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if sess.Get(shared.RequestedDateKey) != "" {
		t.Fatalf("expected overrides cleared after denial")
	}
}

func TestAuthorizeRequestedDateMovesWindow(t *testing.T) {
	mf := newMWFixture(t)
	// Previewing the course instance before its access window opens.
	before := winStart.Add(-24 * time.Hour).Format(time.RFC3339)

	res, _ := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedDateKey: before,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	snap := mf.captured
	if snap.ActiveRule != nil {
		t.Fatalf("expected no active rule before the window opens")
	}
	// Only a mode override may mark the mode as requested; a date override
	// keeps the reason the baseline evaluation chose.
	if snap.ModeReason != ModeReasonDefault {
		t.Fatalf("expected default mode reason, got %s", snap.ModeReason)
	}
}

func TestAuthorizeViewAsDisconnectedUserDenied(t *testing.T) {
	mf := newMWFixture(t)
	// Before the window opens the student has no access, so there is no
	// student view to emulate.
	before := winStart.Add(-24 * time.Hour).Format(time.RFC3339)

	res, sess := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedUIDKey:  mf.student.UID,
		shared.RequestedDateKey: before,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if sess.Get(shared.RequestedUIDKey) != "" {
		t.Fatalf("expected overrides cleared after denial")
	}
}

func TestAuthorizeRoleOverrideCannotEscalate(t *testing.T) {
	mf := newMWFixture(t)
	// Instance-level staff with no course role tries to claim Editor.
	viewerStaff := users.User{ID: 4, UID: "viewer@example.com"}
	mf.userStore.add(viewerStaff)
	mf.store.instanceRoles[roleKey{viewerStaff.ID, 1000}] = "Student Data Viewer"

	res, sess := mf.get(t, "/courses/100/instances/1000", viewerStaff, map[string]string{
		shared.RequestedCourseRoleKey: "Editor",
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if sess.Get(shared.RequestedCourseRoleKey) != "" {
		t.Fatalf("expected overrides cleared after denial")
	}
}

func TestAuthorizeRoleOverrideDownward(t *testing.T) {
	mf := newMWFixture(t)

	res, _ := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedCourseRoleKey:         "None",
		shared.RequestedCourseInstanceRoleKey: "None",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	snap := mf.captured
	if snap.CoursePerms.CourseRole != CourseRoleNone {
		t.Fatalf("expected effective role None, got %s", snap.CoursePerms.CourseRole)
	}
	// An instructor viewing their own course as a plain student gains
	// enrolled-student access without an enrollment row.
	if snap.InstancePerms == nil || !snap.InstancePerms.HasStudentAccessWithEnrollment {
		t.Fatalf("expected self-view-as-student to be treated as enrolled")
	}
	if snap.AuthnCourse.CourseRole != CourseRoleOwner {
		t.Fatalf("expected authn fields untouched")
	}
}

func TestAuthorizeExampleCourseOverrideAdminOnly(t *testing.T) {
	mf := newMWFixture(t)
	course := mf.store.courses[100]
	course.ExampleCourse = true
	mf.store.courses[100] = course

	res, _ := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedUIDKey: mf.student.UID,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin override on example course, got %d", res.Code)
	}

	mf.userStore.admins[mf.instructor.ID] = true
	res, _ = mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedUIDKey: mf.student.UID,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin override, got %d: %s", res.Code, res.Body.String())
	}
}

func TestAuthorizeUnknownEffectiveUID(t *testing.T) {
	mf := newMWFixture(t)

	res, sess := mf.get(t, "/courses/100/instances/1000", mf.instructor, map[string]string{
		shared.RequestedUIDKey: "ghost@example.com",
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if sess.Get(shared.RequestedUIDKey) != "" {
		t.Fatalf("expected overrides cleared after denial")
	}
}
