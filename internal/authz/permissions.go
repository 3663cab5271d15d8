package authz

import (
	"time"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/enrollments"
)

// AggregateCourse derives the course permission set from a stored role and
// the override flags. Precedence, highest first: the administrator flag
// grants Owner-equivalent permissions; the example-course override raises
// the stored role to at most Viewer; otherwise the stored role stands.
func AggregateCourse(role CourseRole, isAdministrator, isExampleCourse, allowExampleCourseOverride bool) CoursePermissions {
	if isAdministrator {
		role = CourseRoleOwner
	} else if allowExampleCourseOverride && isExampleCourse && role < CourseRoleViewer {
		role = CourseRoleViewer
	}
	return CoursePermissions{
		CourseRole: role,
		Preview:    role >= CourseRolePreviewer,
		View:       role >= CourseRoleViewer,
		Edit:       role >= CourseRoleEditor,
		Own:        role >= CourseRoleOwner,
	}
}

// AggregateCourseInstance derives the role-scoped instance permissions.
// The administrator flag grants Student Data Editor equivalence. Student
// access fields are filled in separately by StudentAccess.
func AggregateCourseInstance(role CourseInstanceRole, isAdministrator bool) InstancePermissions {
	if isAdministrator {
		role = CourseInstanceRoleStudentDataEditor
	}
	return InstancePermissions{
		CourseInstanceRole: role,
		ViewStudentData:    role >= CourseInstanceRoleStudentDataViewer,
		EditStudentData:    role >= CourseInstanceRoleStudentDataEditor,
	}
}

// StudentAccess computes the enrollment-coupled access pair. Access
// requires enrollment plus a currently matching rule; the with-enrollment
// variant additionally requires the enrollment to have existed at or
// before the governing rule's window start, so a rule cannot retroactively
// admit someone who enrolled mid-window.
func StudentAccess(enr *enrollments.Enrollment, match *access.Result) (hasAccess, withEnrollment bool) {
	if enr == nil || match == nil {
		return false, false
	}
	hasAccess = true
	start := match.Rule.StartDate
	if start == nil {
		return true, true
	}
	withEnrollment = !enr.CreatedAt.After(*start)
	return hasAccess, withEnrollment
}

// SelectMode picks the evaluation mode for a request. An explicitly
// requested mode always wins; otherwise a currently applicable exam rule
// forces Exam; otherwise the request is Public.
func SelectMode(requested access.Mode, rules []access.Rule, date time.Time, uid string) (access.Mode, ModeReason) {
	if requested != "" {
		return requested, ModeReasonRequested
	}
	if access.HasActiveExamRule(rules, date, uid) {
		return access.ModeExam, ModeReasonExamRule
	}
	return access.ModePublic, ModeReasonDefault
}
