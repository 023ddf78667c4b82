// Package trace records structured events for every webhook pipeline run:
// what arrived, what was created, what was resolved, what failed. Events are
// written to Postgres and indexed into Meilisearch when it is available.
package trace

import "time"

type Event struct {
	ID        string         `json:"id"`
	MatterID  int64          `json:"matterId"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

const (
	KindWebhookReceived = "webhook_received"
	KindDuplicateSkip   = "duplicate_skip"
	KindTaskCreated     = "task_created"
	KindDueDateResolved = "due_date_resolved"
	KindTaskCompleted   = "task_completed"
	KindAssigneeMissing = "assignee_missing"
	KindAPIFailure      = "api_failure"
	KindContactEvent    = "contact_event"
)
