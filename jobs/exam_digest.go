package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lectern-lms/lectern/internal/access"
)

const (
	// TaskExamWindowDigest summarizes exam windows opening soon.
	TaskExamWindowDigest = "access:exam-digest"

	examDigestHorizon = 24 * time.Hour
)

// ExamWindowDigestPayload carries scheduling metadata.
type ExamWindowDigestPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ExamWindowSource lists exam rules with windows opening in a range.
type ExamWindowSource interface {
	ListUpcomingExamWindows(ctx context.Context, from, until time.Time) ([]access.Rule, error)
}

// NewExamWindowDigestTask constructs an Asynq task for the digest.
func NewExamWindowDigestTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExamWindowDigestPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExamWindowDigest, body, asynq.Queue(QueueDefault)), nil
}

// NewExamWindowDigestHandler logs exam windows opening within the next
// day so operators can anticipate load spikes.
func NewExamWindowDigestHandler(logger *slog.Logger, source ExamWindowSource) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExamWindowDigestPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		from := payload.ScheduledFor
		if from.IsZero() {
			from = time.Now().UTC()
		}
		rules, err := source.ListUpcomingExamWindows(ctx, from, from.Add(examDigestHorizon))
		if err != nil {
			return err
		}
		for _, rule := range rules {
			attrs := []any{
				slog.Int64("rule_id", rule.ID),
				slog.Int64("course_instance_id", rule.CourseInstanceID),
			}
			if rule.StartDate != nil {
				attrs = append(attrs, slog.Time("opens_at", *rule.StartDate))
			}
			logger.Info("exam window opening soon", attrs...)
		}
		logger.Info("exam window digest complete", slog.Int("windows", len(rules)))
		return nil
	}
}
