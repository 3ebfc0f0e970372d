package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays stock history and flags drifted products.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskPOStatusScan re-derives purchase order statuses from line state.
	TaskPOStatusScan = "purchasing:status_scan"
)

// LedgerIntegrityPayload contains options for the integrity job.
type LedgerIntegrityPayload struct {
	// Notify logs every drifted product individually when true.
	Notify bool `json:"notify"`
}

// NewLedgerIntegrityTask builds an integrity check task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewPOStatusScanTask builds a status scan task.
func NewPOStatusScanTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskPOStatusScan, nil, asynq.Queue(QueueDefault)), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueLedgerIntegrity enqueues an integrity check.
func (c *Client) EnqueueLedgerIntegrity(ctx context.Context, payload LedgerIntegrityPayload) (*asynq.TaskInfo, error) {
	task, err := NewLedgerIntegrityTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// EnqueuePOStatusScan enqueues a status scan.
func (c *Client) EnqueuePOStatusScan(ctx context.Context) (*asynq.TaskInfo, error) {
	task, err := NewPOStatusScanTask()
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
