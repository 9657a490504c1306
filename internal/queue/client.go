package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	batchMaxRetry = 3
	// Items convert one after another, so the task deadline grows with the
	// batch and is clamped to [minBatchTimeout, maxBatchTimeout].
	perItemTimeout  = 30 * time.Second
	minBatchTimeout = 2 * time.Minute
	maxBatchTimeout = 30 * time.Minute
	// Finished tasks stay inspectable for this long.
	batchRetention = 24 * time.Hour
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueConvertBatch schedules a batch under its batch id, so enqueueing the
// same batch twice fails with asynq.ErrTaskIDConflict.
func (c *Client) EnqueueConvertBatch(ctx context.Context, payload ConvertBatchPayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertBatchTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task, batchOptions(c.queue, payload)...)
	if err != nil {
		return nil, fmt.Errorf("enqueue batch %s: %w", payload.BatchID, err)
	}
	return info, nil
}

func batchOptions(queueName string, payload ConvertBatchPayload) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(payload.BatchID),
		asynq.MaxRetry(batchMaxRetry),
		asynq.Timeout(BatchTimeout(len(payload.Request.InputPaths) + len(payload.Request.Inputs))),
		asynq.Retention(batchRetention),
	}
}

// BatchTimeout is the processing deadline for a batch of n items.
func BatchTimeout(n int) time.Duration {
	return min(max(time.Duration(n)*perItemTimeout, minBatchTimeout), maxBatchTimeout)
}

func (c *Client) Close() error {
	return c.client.Close()
}
