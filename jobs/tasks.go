package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueEnrollmentAudit enqueues an enrollment audit task.
func (c *Client) EnqueueEnrollmentAudit(ctx context.Context, at time.Time) (*asynq.TaskInfo, error) {
	task, err := NewEnrollmentAuditTask(at)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// EnqueueExamWindowDigest enqueues an exam window digest task.
func (c *Client) EnqueueExamWindowDigest(ctx context.Context, at time.Time) (*asynq.TaskInfo, error) {
	task, err := NewExamWindowDigestTask(at)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
