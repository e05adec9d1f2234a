package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskRunFollowups = "followups.run"

// RunFollowupsPayload asks a worker to run the follow-up scheduler for one
// user. Now is fixed at enqueue time so retries evaluate the same instant.
type RunFollowupsPayload struct {
	UserID string    `json:"userId"`
	Now    time.Time `json:"now"`
}

func NewRunFollowupsTask(payload RunFollowupsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRunFollowups, data), nil
}

func ParseRunFollowupsPayload(task *asynq.Task) (RunFollowupsPayload, error) {
	var payload RunFollowupsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RunFollowupsPayload{}, err
	}
	return payload, nil
}
