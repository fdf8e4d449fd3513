package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const TaskVerificationLinkExpiry = "verification.link_expiry"

// LinkExpiryPayload identifies the link a task was scheduled for. A case whose
// rejection count moved on has a newer link and is left alone.
type LinkExpiryPayload struct {
	CaseID         string `json:"caseId"`
	RejectionCount int    `json:"rejectionCount"`
}

// TaskID makes scheduling idempotent per link.
func (p LinkExpiryPayload) TaskID() string {
	return fmt.Sprintf("link-expiry:%s:%d", p.CaseID, p.RejectionCount)
}

func NewLinkExpiryTask(payload LinkExpiryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerificationLinkExpiry, data), nil
}

func ParseLinkExpiryPayload(task *asynq.Task) (LinkExpiryPayload, error) {
	var payload LinkExpiryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LinkExpiryPayload{}, err
	}
	return payload, nil
}
