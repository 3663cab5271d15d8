package courses

import "time"

// Institution owns courses and supplies defaults that course instances
// inherit when they do not set their own.
type Institution struct {
	ID        int64
	ShortName string
	LongName  string
	// DefaultEnrollmentLimit caps enrollments for instances that do not
	// carry their own limit. Zero means unlimited.
	DefaultEnrollmentLimit int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Course is a single course owned by exactly one institution.
type Course struct {
	ID            int64
	InstitutionID int64
	ShortName     string
	Title         string
	// ExampleCourse marks the distinguished public demo course. Any
	// authenticated user may be granted baseline Viewer access to it.
	ExampleCourse bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CourseInstance is one offering of a course (a semester, a section).
type CourseInstance struct {
	ID              int64
	CourseID        int64
	ShortName       string
	LongName        string
	DisplayTimezone string
	// EnrollmentLimit caps enrollments for this instance; nil inherits the
	// institution default.
	EnrollmentLimit *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectiveEnrollmentLimit resolves the limit for an instance against its
// institution. Zero means unlimited.
func (ci CourseInstance) EffectiveEnrollmentLimit(inst Institution) int64 {
	if ci.EnrollmentLimit != nil {
		return *ci.EnrollmentLimit
	}
	return inst.DefaultEnrollmentLimit
}
