package access

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lectern-lms/lectern/internal/shared"
)

// Resolver materializes the ordered rule set for a course instance, and
// optionally for one assessment within it. Rule sets are small and human
// authored, so they are always fetched whole.
type Resolver interface {
	ResolveRules(ctx context.Context, courseInstanceID, assessmentID int64) ([]Rule, error)
}

// Repository resolves rules from PostgreSQL. Rule rows are validated as
// they cross the storage boundary; a row that fails validation aborts the
// resolve rather than silently degrading.
type Repository struct {
	pool     *pgxpool.Pool
	validate *validator.Validate
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, validate: validator.New()}
}

// ResolveRules returns rules in authoring order. It fails with
// shared.ErrNotFound when the course instance does not exist. An
// assessmentID of zero resolves the instance-level rules only.
func (r *Repository) ResolveRules(ctx context.Context, courseInstanceID, assessmentID int64) ([]Rule, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM course_instances WHERE id = $1 AND deleted_at IS NULL)`,
		courseInstanceID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("access: course instance lookup: %w", err)
	}
	if !exists {
		return nil, shared.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, course_instance_id, assessment_id, number, COALESCE(mode, ''),
		       COALESCE(uids, '{}'), start_date, end_date, credit, time_limit_min,
		       COALESCE(password, ''), exam_uuid
		FROM access_rules
		WHERE course_instance_id = $1
		  AND (assessment_id IS NULL OR assessment_id = $2)
		ORDER BY number, id`, courseInstanceID, nullableID(assessmentID))
	if err != nil {
		return nil, fmt.Errorf("access: select rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		var mode string
		if err := rows.Scan(
			&rule.ID, &rule.CourseInstanceID, &rule.AssessmentID, &rule.Number, &mode,
			&rule.UIDs, &rule.StartDate, &rule.EndDate, &rule.Credit, &rule.TimeLimitMin,
			&rule.Password, &rule.ExamUUID,
		); err != nil {
			return nil, fmt.Errorf("access: scan rule: %w", err)
		}
		rule.Mode = Mode(mode)
		if err := r.validate.Struct(rule); err != nil {
			return nil, fmt.Errorf("access: invalid rule %d: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("access: iterate rules: %w", err)
	}
	return rules, nil
}

// ListUpcomingExamWindows returns exam-mode rules whose window opens in
// [from, until), across all course instances. Used by the digest job.
func (r *Repository) ListUpcomingExamWindows(ctx context.Context, from, until time.Time) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, course_instance_id, assessment_id, number, COALESCE(mode, ''),
		       COALESCE(uids, '{}'), start_date, end_date, credit, time_limit_min,
		       COALESCE(password, ''), exam_uuid
		FROM access_rules
		WHERE mode = 'Exam'
		  AND start_date >= $1 AND start_date < $2
		ORDER BY start_date, id`, from, until)
	if err != nil {
		return nil, fmt.Errorf("access: select upcoming exam windows: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		var mode string
		if err := rows.Scan(
			&rule.ID, &rule.CourseInstanceID, &rule.AssessmentID, &rule.Number, &mode,
			&rule.UIDs, &rule.StartDate, &rule.EndDate, &rule.Credit, &rule.TimeLimitMin,
			&rule.Password, &rule.ExamUUID,
		); err != nil {
			return nil, fmt.Errorf("access: scan rule: %w", err)
		}
		rule.Mode = Mode(mode)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("access: iterate rules: %w", err)
	}
	return rules, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
