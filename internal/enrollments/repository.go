package enrollments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lectern-lms/lectern/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindEnrollment returns the enrollment for a user in a course instance,
// or nil when the user is not enrolled.
func (r *Repository) FindEnrollment(ctx context.Context, userID, courseInstanceID int64) (*Enrollment, error) {
	var enr Enrollment
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, course_instance_id, created_at
		FROM enrollments
		WHERE user_id = $1 AND course_instance_id = $2`, userID, courseInstanceID).
		Scan(&enr.ID, &enr.UserID, &enr.CourseInstanceID, &enr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("enrollments: select enrollment: %w", err)
	}
	return &enr, nil
}

// CreateEnrollment inserts an enrollment row, enforcing the limit inside
// a transaction. The course instance row is locked so two concurrent
// enrolls cannot both pass the count check; a limit of zero is uncapped.
// A concurrent duplicate insert surfaces as ErrAlreadyEnrolled via the
// unique constraint.
func (r *Repository) CreateEnrollment(ctx context.Context, userID, courseInstanceID, limit int64) (Enrollment, error) {
	var enr Enrollment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if limit > 0 {
			var locked int64
			if err := tx.QueryRow(ctx, `
				SELECT id FROM course_instances WHERE id = $1 FOR UPDATE`, courseInstanceID).
				Scan(&locked); err != nil {
				return fmt.Errorf("enrollments: lock course instance: %w", err)
			}
			var count int64
			if err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM enrollments WHERE course_instance_id = $1`, courseInstanceID).
				Scan(&count); err != nil {
				return fmt.Errorf("enrollments: count enrollments: %w", err)
			}
			if count >= limit {
				return ErrLimitReached
			}
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO enrollments (user_id, course_instance_id, created_at)
			VALUES ($1, $2, now())
			RETURNING id, user_id, course_instance_id, created_at`, userID, courseInstanceID).
			Scan(&enr.ID, &enr.UserID, &enr.CourseInstanceID, &enr.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrAlreadyEnrolled
			}
			return fmt.Errorf("enrollments: insert enrollment: %w", err)
		}
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}
	return enr, nil
}

// ListOverLimit returns course instances whose enrollment count exceeds
// the given resolved limit, for the audit job.
func (r *Repository) ListOverLimit(ctx context.Context) ([]OverLimit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ci.id, COUNT(e.id) AS enrolled, COALESCE(ci.enrollment_limit, i.default_enrollment_limit, 0) AS cap
		FROM course_instances ci
		JOIN courses c ON c.id = ci.course_id
		JOIN institutions i ON i.id = c.institution_id
		LEFT JOIN enrollments e ON e.course_instance_id = ci.id
		WHERE ci.deleted_at IS NULL
		GROUP BY ci.id, ci.enrollment_limit, i.default_enrollment_limit
		HAVING COALESCE(ci.enrollment_limit, i.default_enrollment_limit, 0) > 0
		   AND COUNT(e.id) > COALESCE(ci.enrollment_limit, i.default_enrollment_limit, 0)`)
	if err != nil {
		return nil, fmt.Errorf("enrollments: select over limit: %w", err)
	}
	defer rows.Close()

	var result []OverLimit
	for rows.Next() {
		var item OverLimit
		if err := rows.Scan(&item.CourseInstanceID, &item.Enrolled, &item.Limit); err != nil {
			return nil, fmt.Errorf("enrollments: scan over limit: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("enrollments: iterate over limit: %w", err)
	}
	return result, nil
}

// OverLimit reports a course instance holding more enrollments than its
// resolved limit allows.
type OverLimit struct {
	CourseInstanceID int64
	Enrolled         int64
	Limit            int64
}
