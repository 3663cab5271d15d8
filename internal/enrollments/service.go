package enrollments

import (
	"context"
	"errors"

	"github.com/lectern-lms/lectern/internal/courses"
)

// CourseStore is the subset of the course repository the service needs.
type CourseStore interface {
	FindInstitution(ctx context.Context, id int64) (courses.Institution, error)
	FindCourse(ctx context.Context, id int64) (courses.Course, error)
	FindCourseInstance(ctx context.Context, id int64) (courses.CourseInstance, error)
}

// Store is the enrollment persistence contract. CreateEnrollment
// enforces the limit atomically; a limit of zero is uncapped.
type Store interface {
	FindEnrollment(ctx context.Context, userID, courseInstanceID int64) (*Enrollment, error)
	CreateEnrollment(ctx context.Context, userID, courseInstanceID, limit int64) (Enrollment, error)
}

// Service enforces enrollment business rules.
type Service struct {
	store   Store
	courses CourseStore
}

// NewService constructs a Service.
func NewService(store Store, courseStore CourseStore) *Service {
	return &Service{store: store, courses: courseStore}
}

// Enroll enrolls a user in a course instance, enforcing the enrollment
// limit. Enrolling twice is not an error: the existing enrollment is
// returned unchanged.
func (s *Service) Enroll(ctx context.Context, userID, courseInstanceID int64) (Enrollment, error) {
	if existing, err := s.store.FindEnrollment(ctx, userID, courseInstanceID); err != nil {
		return Enrollment{}, err
	} else if existing != nil {
		return *existing, nil
	}

	ci, err := s.courses.FindCourseInstance(ctx, courseInstanceID)
	if err != nil {
		return Enrollment{}, err
	}
	course, err := s.courses.FindCourse(ctx, ci.CourseID)
	if err != nil {
		return Enrollment{}, err
	}
	inst, err := s.courses.FindInstitution(ctx, course.InstitutionID)
	if err != nil {
		return Enrollment{}, err
	}

	enr, err := s.store.CreateEnrollment(ctx, userID, courseInstanceID, ci.EffectiveEnrollmentLimit(inst))
	if errors.Is(err, ErrAlreadyEnrolled) {
		// Lost a race with a concurrent enroll; fetch the winner.
		if existing, findErr := s.store.FindEnrollment(ctx, userID, courseInstanceID); findErr == nil && existing != nil {
			return *existing, nil
		}
		return Enrollment{}, err
	}
	return enr, err
}
