// Package authz computes per-request authorization snapshots. A snapshot
// combines the authenticated user's and the effective user's course and
// course-instance permissions with the access-rule verdict for the request
// time and mode. Snapshots are immutable: they are built once per request
// and never mutated or shared.
package authz

import (
	"fmt"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/courses"
	"github.com/lectern-lms/lectern/internal/users"
)

// CourseRole is the ordered course-wide permission level. A higher role
// carries every permission of the roles below it.
type CourseRole int

const (
	CourseRoleNone CourseRole = iota
	CourseRolePreviewer
	CourseRoleViewer
	CourseRoleEditor
	CourseRoleOwner
)

var courseRoleNames = map[CourseRole]string{
	CourseRoleNone:      "None",
	CourseRolePreviewer: "Previewer",
	CourseRoleViewer:    "Viewer",
	CourseRoleEditor:    "Editor",
	CourseRoleOwner:     "Owner",
}

func (r CourseRole) String() string {
	if name, ok := courseRoleNames[r]; ok {
		return name
	}
	return "None"
}

// ParseCourseRole maps a stored role name to its enum value. Unknown or
// empty names degrade to None, never to a higher role.
func ParseCourseRole(name string) CourseRole {
	for role, n := range courseRoleNames {
		if n == name {
			return role
		}
	}
	return CourseRoleNone
}

// CourseInstanceRole is the ordered permission level scoped to one course
// instance, independent of the course role.
type CourseInstanceRole int

const (
	CourseInstanceRoleNone CourseInstanceRole = iota
	CourseInstanceRoleStudentDataViewer
	CourseInstanceRoleStudentDataEditor
)

var courseInstanceRoleNames = map[CourseInstanceRole]string{
	CourseInstanceRoleNone:              "None",
	CourseInstanceRoleStudentDataViewer: "Student Data Viewer",
	CourseInstanceRoleStudentDataEditor: "Student Data Editor",
}

func (r CourseInstanceRole) String() string {
	if name, ok := courseInstanceRoleNames[r]; ok {
		return name
	}
	return "None"
}

// ParseCourseInstanceRole maps a stored role name to its enum value.
func ParseCourseInstanceRole(name string) CourseInstanceRole {
	for role, n := range courseInstanceRoleNames {
		if n == name {
			return role
		}
	}
	return CourseInstanceRoleNone
}

// ModeReason records why the snapshot's mode was chosen.
type ModeReason string

const (
	// ModeReasonDefault: no exam rule applied, evaluated as Public.
	ModeReasonDefault ModeReason = "default"
	// ModeReasonExamRule: an exam-mode access rule matched the subject.
	ModeReasonExamRule ModeReason = "exam-access-rule"
	// ModeReasonRequested: the caller forced the mode (e.g. exam preview).
	ModeReasonRequested ModeReason = "requested"
)

// CoursePermissions is the role-derived course permission set.
type CoursePermissions struct {
	CourseRole CourseRole
	Preview    bool
	View       bool
	Edit       bool
	Own        bool
}

// InstancePermissions is the permission set scoped to one course instance.
// It exists on a snapshot only when a course instance is in scope, so
// callers can never read stale instance permissions on a course-only
// request.
type InstancePermissions struct {
	CourseInstanceRole CourseInstanceRole
	ViewStudentData    bool
	EditStudentData    bool
	// HasStudentAccess holds when the subject is enrolled and an access
	// rule currently matches.
	HasStudentAccess bool
	// HasStudentAccessWithEnrollment additionally requires the enrollment
	// to predate or coincide with the governing rule's window start.
	HasStudentAccessWithEnrollment bool
}

// Snapshot is the immutable result of authorization evaluation for one
// request. The Authn-prefixed fields are always computed from the
// authenticated user's own roles and rules; the unprefixed fields describe
// the effective user, which differs only under "view as".
type Snapshot struct {
	Institution    courses.Institution
	Course         courses.Course
	CourseInstance *courses.CourseInstance

	Mode       access.Mode
	ModeReason ModeReason

	AuthnUser            users.User
	AuthnIsAdministrator bool
	AuthnCourse          CoursePermissions
	AuthnInstance        *InstancePermissions

	User            users.User
	IsAdministrator bool
	CoursePerms     CoursePermissions
	InstancePerms   *InstancePermissions

	// ActiveRule is the first access rule matching the effective user, if
	// any; its credit, time limit, password and exam UUID drive display
	// and enforcement.
	ActiveRule *access.Result
	// VisibleRules are the matching-or-future rules shown to students.
	VisibleRules []access.Rule
}

// ViewingAsOther reports whether the effective user differs from the
// authenticated one.
func (s *Snapshot) ViewingAsOther() bool {
	return s.User.ID != s.AuthnUser.ID
}

// InputError indicates the caller supplied an internally inconsistent
// scope, such as a course instance that does not belong to the course. It
// signals a bug in the calling code and must never be swallowed.
type InputError struct {
	CourseID         int64
	CourseInstanceID int64
}

func (e *InputError) Error() string {
	return fmt.Sprintf("authz: course instance %d does not belong to course %d", e.CourseInstanceID, e.CourseID)
}
