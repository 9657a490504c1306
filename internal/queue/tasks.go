package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelconvert/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeConvertBatch = "image:convert_batch"

type ConvertBatchPayload struct {
	BatchID     string                     `json:"batch_id"`
	Request     domain.BatchConvertRequest `json:"request"`
	WebhookURL  string                     `json:"webhook_url,omitempty"`
	RequestedAt time.Time                  `json:"requested_at"`
}

func NewConvertBatchTask(payload ConvertBatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal batch payload: %w", err)
	}
	return asynq.NewTask(TypeConvertBatch, body), nil
}

func ParseConvertBatchPayload(task *asynq.Task) (ConvertBatchPayload, error) {
	var payload ConvertBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertBatchPayload{}, fmt.Errorf("unmarshal batch payload: %w", err)
	}
	if payload.BatchID == "" {
		return ConvertBatchPayload{}, fmt.Errorf("batch payload is missing batch_id")
	}
	return payload, nil
}
