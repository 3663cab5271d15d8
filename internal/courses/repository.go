package courses

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lectern-lms/lectern/internal/shared"
)

// Repository provides PostgreSQL backed persistence for course scope
// entities and role grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindInstitution fetches an institution by ID.
func (r *Repository) FindInstitution(ctx context.Context, id int64) (Institution, error) {
	var inst Institution
	err := r.pool.QueryRow(ctx, `
		SELECT id, short_name, long_name, COALESCE(default_enrollment_limit, 0), created_at, updated_at
		FROM institutions
		WHERE id = $1`, id).
		Scan(&inst.ID, &inst.ShortName, &inst.LongName, &inst.DefaultEnrollmentLimit, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Institution{}, shared.ErrNotFound
		}
		return Institution{}, fmt.Errorf("courses: select institution: %w", err)
	}
	return inst, nil
}

// FindCourse fetches a course by ID.
func (r *Repository) FindCourse(ctx context.Context, id int64) (Course, error) {
	var course Course
	err := r.pool.QueryRow(ctx, `
		SELECT id, institution_id, short_name, title, example_course, created_at, updated_at
		FROM courses
		WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&course.ID, &course.InstitutionID, &course.ShortName, &course.Title, &course.ExampleCourse, &course.CreatedAt, &course.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Course{}, shared.ErrNotFound
		}
		return Course{}, fmt.Errorf("courses: select course: %w", err)
	}
	return course, nil
}

// FindCourseInstance fetches a course instance by ID.
func (r *Repository) FindCourseInstance(ctx context.Context, id int64) (CourseInstance, error) {
	var ci CourseInstance
	err := r.pool.QueryRow(ctx, `
		SELECT id, course_id, short_name, long_name, display_timezone, enrollment_limit, created_at, updated_at
		FROM course_instances
		WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&ci.ID, &ci.CourseID, &ci.ShortName, &ci.LongName, &ci.DisplayTimezone, &ci.EnrollmentLimit, &ci.CreatedAt, &ci.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CourseInstance{}, shared.ErrNotFound
		}
		return CourseInstance{}, fmt.Errorf("courses: select course instance: %w", err)
	}
	return ci, nil
}

// CourseRole returns the stored course role name for a user, or the empty
// string when the user has no grant.
func (r *Repository) CourseRole(ctx context.Context, userID, courseID int64) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT course_role
		FROM course_permissions
		WHERE user_id = $1 AND course_id = $2`, userID, courseID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("courses: select course role: %w", err)
	}
	return role, nil
}

// CourseInstanceRole returns the stored course-instance role name for a
// user, or the empty string when the user has no grant.
func (r *Repository) CourseInstanceRole(ctx context.Context, userID, courseInstanceID int64) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT course_instance_role
		FROM course_instance_permissions
		WHERE user_id = $1 AND course_instance_id = $2`, userID, courseInstanceID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("courses: select course instance role: %w", err)
	}
	return role, nil
}
