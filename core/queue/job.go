package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a job handler.
type Kind string

const (
	KindNotifySMS        Kind = "notify-sms"
	KindNotifyEmail      Kind = "notify-email"
	KindAssignCollector  Kind = "assign-collector"
	KindRecomputeHeatmap Kind = "recompute-heatmap"
	KindCleanup          Kind = "cleanup"
)

// Maintenance reports whether failed runs of the kind are not worth retrying
// because the next scheduled run supersedes them.
func (k Kind) Maintenance() bool {
	return k == KindRecomputeHeatmap || k == KindCleanup
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one unit of queued work.
type Job struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	NextRunAt   time.Time       `json:"next_run_at"`
	LastError   string          `json:"last_error,omitempty"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Decode unmarshals the payload into out.
func (j Job) Decode(out any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Payload, out); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return nil
}

// NotifyPayload is carried by notify-sms and notify-email jobs.
type NotifyPayload struct {
	Target    string `json:"target"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
	MissionID string `json:"mission_id,omitempty"`
}

// AssignPayload is carried by assign-collector jobs.
type AssignPayload struct {
	MissionID      string `json:"mission_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	// Redispatch counts delayed retries after no collector was available.
	Redispatch int `json:"redispatch,omitempty"`
}

// AssignJobID is the id shared by every assign-collector job of a mission,
// so that at most one of them is live at a time.
func AssignJobID(missionID string) string { return "assign:" + missionID }

// HeatmapPayload is carried by recompute-heatmap jobs.
type HeatmapPayload struct {
	OrganizationID string `json:"organization_id"`
}

// CleanupPayload is carried by cleanup jobs.
type CleanupPayload struct{}

// Option customises an enqueued job.
type Option func(*Job)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// WithDelay postpones the first run.
func WithDelay(d time.Duration) Option {
	return func(j *Job) { j.NextRunAt = j.NextRunAt.Add(d) }
}

// WithID sets the job id instead of a generated one.
func WithID(id string) Option {
	return func(j *Job) {
		if id != "" {
			j.ID = id
		}
	}
}
