package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lectern-lms/lectern/internal/enrollments"
)

const (
	// TaskEnrollmentAudit triggers the nightly enrollment limit audit.
	TaskEnrollmentAudit = "enrollments:audit"
)

// EnrollmentAuditPayload carries scheduling metadata.
type EnrollmentAuditPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// EnrollmentAuditor lists course instances whose enrollment count exceeds
// their effective limit.
type EnrollmentAuditor interface {
	ListOverLimit(ctx context.Context) ([]enrollments.OverLimit, error)
}

// NewEnrollmentAuditTask constructs an Asynq task for the audit.
func NewEnrollmentAuditTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(EnrollmentAuditPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEnrollmentAudit, body, asynq.Queue(QueueDefault)), nil
}

// NewEnrollmentAuditHandler reports instances over their enrollment
// limit. Limits can drop below the live count when an institution lowers
// its default, so existing enrollments are never revoked; the audit
// surfaces them for staff to resolve.
func NewEnrollmentAuditHandler(logger *slog.Logger, auditor EnrollmentAuditor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload EnrollmentAuditPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		over, err := auditor.ListOverLimit(ctx)
		if err != nil {
			return err
		}
		for _, entry := range over {
			logger.Warn("course instance over enrollment limit",
				slog.Int64("course_instance_id", entry.CourseInstanceID),
				slog.Int64("enrolled", entry.Enrolled),
				slog.Int64("limit", entry.Limit),
			)
		}
		logger.Info("enrollment audit complete",
			slog.Int("over_limit", len(over)),
			slog.Time("scheduled_for", payload.ScheduledFor),
		)
		return nil
	}
}
