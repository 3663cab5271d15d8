package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/enrollments"
	_ "github.com/lectern-lms/lectern/testing"
)

var allCourseRoles = []CourseRole{
	CourseRoleNone, CourseRolePreviewer, CourseRoleViewer, CourseRoleEditor, CourseRoleOwner,
}

func TestAggregateCourseThresholds(t *testing.T) {
	cases := []struct {
		role                     CourseRole
		preview, view, edit, own bool
	}{
		{CourseRoleNone, false, false, false, false},
		{CourseRolePreviewer, true, false, false, false},
		{CourseRoleViewer, true, true, false, false},
		{CourseRoleEditor, true, true, true, false},
		{CourseRoleOwner, true, true, true, true},
	}
	for _, tc := range cases {
		perms := AggregateCourse(tc.role, false, false, false)
		assert.Equal(t, tc.role, perms.CourseRole)
		assert.Equal(t, tc.preview, perms.Preview, "%s preview", tc.role)
		assert.Equal(t, tc.view, perms.View, "%s view", tc.role)
		assert.Equal(t, tc.edit, perms.Edit, "%s edit", tc.role)
		assert.Equal(t, tc.own, perms.Own, "%s own", tc.role)
	}
}

func TestAggregateCourseMonotonic(t *testing.T) {
	// A higher role must carry every permission of every lower role.
	for i, lower := range allCourseRoles {
		for _, higher := range allCourseRoles[i:] {
			lo := AggregateCourse(lower, false, false, false)
			hi := AggregateCourse(higher, false, false, false)
			if lo.Preview {
				assert.True(t, hi.Preview, "%s vs %s", lower, higher)
			}
			if lo.View {
				assert.True(t, hi.View, "%s vs %s", lower, higher)
			}
			if lo.Edit {
				assert.True(t, hi.Edit, "%s vs %s", lower, higher)
			}
			if lo.Own {
				assert.True(t, hi.Own, "%s vs %s", lower, higher)
			}
		}
	}
}

func TestAggregateCourseAdministrator(t *testing.T) {
	for _, role := range allCourseRoles {
		perms := AggregateCourse(role, true, false, false)
		assert.Equal(t, CourseRoleOwner, perms.CourseRole, "administrator overrides %s", role)
		assert.True(t, perms.Own)
	}

	// Administrator wins even on the example course.
	perms := AggregateCourse(CourseRoleNone, true, true, true)
	assert.Equal(t, CourseRoleOwner, perms.CourseRole)
}

func TestAggregateCourseExampleCourseOverride(t *testing.T) {
	// The override raises to Viewer, and only on the example course.
	perms := AggregateCourse(CourseRoleNone, false, true, true)
	assert.Equal(t, CourseRoleViewer, perms.CourseRole)
	assert.True(t, perms.View)
	assert.False(t, perms.Edit)
	assert.False(t, perms.Own)

	// A stored role above Viewer is not lowered.
	perms = AggregateCourse(CourseRoleEditor, false, true, true)
	assert.Equal(t, CourseRoleEditor, perms.CourseRole)

	// No effect off the example course, or when disallowed.
	perms = AggregateCourse(CourseRoleNone, false, false, true)
	assert.Equal(t, CourseRoleNone, perms.CourseRole)
	perms = AggregateCourse(CourseRoleNone, false, true, false)
	assert.Equal(t, CourseRoleNone, perms.CourseRole)
}

func TestAggregateCourseInstance(t *testing.T) {
	perms := AggregateCourseInstance(CourseInstanceRoleNone, false)
	assert.False(t, perms.ViewStudentData)
	assert.False(t, perms.EditStudentData)

	perms = AggregateCourseInstance(CourseInstanceRoleStudentDataViewer, false)
	assert.True(t, perms.ViewStudentData)
	assert.False(t, perms.EditStudentData)

	perms = AggregateCourseInstance(CourseInstanceRoleStudentDataEditor, false)
	assert.True(t, perms.ViewStudentData)
	assert.True(t, perms.EditStudentData)

	perms = AggregateCourseInstance(CourseInstanceRoleNone, true)
	assert.Equal(t, CourseInstanceRoleStudentDataEditor, perms.CourseInstanceRole)
	assert.True(t, perms.EditStudentData)
}

func TestStudentAccess(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	match := &access.Result{Rule: access.Rule{StartDate: &start}}

	hasAccess, withEnrollment := StudentAccess(nil, match)
	assert.False(t, hasAccess, "no enrollment, no access")
	assert.False(t, withEnrollment)

	enrolled := &enrollments.Enrollment{CreatedAt: start.Add(-24 * time.Hour)}
	hasAccess, withEnrollment = StudentAccess(enrolled, nil)
	assert.False(t, hasAccess, "no matching rule, no access")
	assert.False(t, withEnrollment)

	hasAccess, withEnrollment = StudentAccess(enrolled, match)
	assert.True(t, hasAccess)
	assert.True(t, withEnrollment, "enrollment predates the window")

	lateEnrollment := &enrollments.Enrollment{CreatedAt: start.Add(time.Hour)}
	hasAccess, withEnrollment = StudentAccess(lateEnrollment, match)
	assert.True(t, hasAccess)
	assert.False(t, withEnrollment, "enrollment after window start")

	atStart := &enrollments.Enrollment{CreatedAt: start}
	_, withEnrollment = StudentAccess(atStart, match)
	assert.True(t, withEnrollment, "enrollment at window start counts")

	openRule := &access.Result{Rule: access.Rule{}}
	hasAccess, withEnrollment = StudentAccess(lateEnrollment, openRule)
	assert.True(t, hasAccess)
	assert.True(t, withEnrollment, "unbounded window imposes no enrollment cutoff")
}

func TestSelectMode(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	examRules := []access.Rule{{Number: 1, Mode: access.ModeExam}}

	mode, reason := SelectMode(access.ModeExam, nil, now, "me@example.com")
	require.Equal(t, access.ModeExam, mode)
	assert.Equal(t, ModeReasonRequested, reason)

	mode, reason = SelectMode("", examRules, now, "me@example.com")
	require.Equal(t, access.ModeExam, mode)
	assert.Equal(t, ModeReasonExamRule, reason)

	mode, reason = SelectMode("", nil, now, "me@example.com")
	require.Equal(t, access.ModePublic, mode)
	assert.Equal(t, ModeReasonDefault, reason)

	// A requested Public mode beats an active exam rule.
	mode, reason = SelectMode(access.ModePublic, examRules, now, "me@example.com")
	require.Equal(t, access.ModePublic, mode)
	assert.Equal(t, ModeReasonRequested, reason)
}
