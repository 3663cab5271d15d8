package authz

// RoleRequirement names a course-instance audience a page or operation is
// gated on.
type RoleRequirement string

const (
	// RequireNone admits anyone.
	RequireNone RoleRequirement = "None"
	// RequireStudent admits users with student access and no staff
	// course-instance role.
	RequireStudent RoleRequirement = "Student"
	// RequireStudentDataViewer admits users who can view student data.
	RequireStudentDataViewer RoleRequirement = "Student Data Viewer"
	// RequireStudentDataEditor admits users who can edit student data.
	RequireStudentDataEditor RoleRequirement = "Student Data Editor"
	// RequireAny admits students and student-data staff alike.
	RequireAny RoleRequirement = "Any"
)

// HasInstanceRole reports whether the snapshot's effective user satisfies
// the requirement. A student is someone with student access whose
// course-instance role is exactly None: staff viewing a course instance do
// not count as students.
func HasInstanceRole(snap *Snapshot, req RoleRequirement) bool {
	perms := snap.InstancePerms
	switch req {
	case RequireNone:
		return true
	case RequireStudent:
		return perms != nil && perms.HasStudentAccess && perms.CourseInstanceRole == CourseInstanceRoleNone
	case RequireStudentDataViewer:
		return perms != nil && perms.ViewStudentData
	case RequireStudentDataEditor:
		return perms != nil && perms.EditStudentData
	case RequireAny:
		return HasInstanceRole(snap, RequireStudent) ||
			HasInstanceRole(snap, RequireStudentDataViewer) ||
			HasInstanceRole(snap, RequireStudentDataEditor)
	default:
		return false
	}
}
