package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	_ "github.com/lectern-lms/lectern/testing"
)

func snapWithInstance(perms InstancePermissions) *Snapshot {
	return &Snapshot{InstancePerms: &perms}
}

func TestHasInstanceRoleNone(t *testing.T) {
	assert.True(t, HasInstanceRole(&Snapshot{}, RequireNone), "no instance scope still satisfies None")
	assert.True(t, HasInstanceRole(snapWithInstance(InstancePermissions{}), RequireNone))
}

func TestHasInstanceRoleStudent(t *testing.T) {
	student := snapWithInstance(InstancePermissions{
		HasStudentAccess: true,
	})
	assert.True(t, HasInstanceRole(student, RequireStudent))
	assert.True(t, HasInstanceRole(student, RequireAny))
	assert.False(t, HasInstanceRole(student, RequireStudentDataViewer))
	assert.False(t, HasInstanceRole(student, RequireStudentDataEditor))

	// Staff with student access are not students.
	staffStudent := snapWithInstance(InstancePermissions{
		CourseInstanceRole: CourseInstanceRoleStudentDataViewer,
		ViewStudentData:    true,
		HasStudentAccess:   true,
	})
	assert.False(t, HasInstanceRole(staffStudent, RequireStudent))
	assert.True(t, HasInstanceRole(staffStudent, RequireAny))

	noAccess := snapWithInstance(InstancePermissions{})
	assert.False(t, HasInstanceRole(noAccess, RequireStudent))
	assert.False(t, HasInstanceRole(noAccess, RequireAny))
}

func TestHasInstanceRoleStaff(t *testing.T) {
	viewer := snapWithInstance(InstancePermissions{
		CourseInstanceRole: CourseInstanceRoleStudentDataViewer,
		ViewStudentData:    true,
	})
	assert.True(t, HasInstanceRole(viewer, RequireStudentDataViewer))
	assert.False(t, HasInstanceRole(viewer, RequireStudentDataEditor))
	assert.True(t, HasInstanceRole(viewer, RequireAny))

	editor := snapWithInstance(InstancePermissions{
		CourseInstanceRole: CourseInstanceRoleStudentDataEditor,
		ViewStudentData:    true,
		EditStudentData:    true,
	})
	assert.True(t, HasInstanceRole(editor, RequireStudentDataViewer))
	assert.True(t, HasInstanceRole(editor, RequireStudentDataEditor))
}

func TestHasInstanceRoleWithoutInstanceScope(t *testing.T) {
	snap := &Snapshot{}
	assert.False(t, HasInstanceRole(snap, RequireStudent))
	assert.False(t, HasInstanceRole(snap, RequireStudentDataViewer))
	assert.False(t, HasInstanceRole(snap, RequireStudentDataEditor))
	assert.False(t, HasInstanceRole(snap, RequireAny))
}
