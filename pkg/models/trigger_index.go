package models

import "time"

type TriggerSubtype string

const (
	TriggerCron    TriggerSubtype = "CRON"
	TriggerManual  TriggerSubtype = "MANUAL"
	TriggerWebhook TriggerSubtype = "WEBHOOK"
	TriggerEmail   TriggerSubtype = "EMAIL"
	TriggerGithub  TriggerSubtype = "GITHUB"
	TriggerSlack   TriggerSubtype = "SLACK"
)

// TriggerSubtypes lists the trigger subtypes the index understands.
var TriggerSubtypes = []TriggerSubtype{
	TriggerCron,
	TriggerManual,
	TriggerWebhook,
	TriggerEmail,
	TriggerGithub,
	TriggerSlack,
}

type DeploymentStatus string

const (
	DeploymentActive   DeploymentStatus = "active"
	DeploymentInactive DeploymentStatus = "inactive"
	DeploymentPending  DeploymentStatus = "pending"
	DeploymentFailed   DeploymentStatus = "failed"
)

// TriggerIndexEntry registers one deployed trigger under a coarse lookup key.
// Entries are unique on (WorkflowID, IndexKey).
type TriggerIndexEntry struct {
	WorkflowID       string           `json:"workflow_id"`
	TriggerNodeID    string           `json:"trigger_node_id"`
	TriggerSubtype   TriggerSubtype   `json:"trigger_subtype"`
	IndexKey         string           `json:"index_key"`
	TriggerConfig    map[string]any   `json:"trigger_config"`
	DeploymentStatus DeploymentStatus `json:"deployment_status"`
	DeployedAt       time.Time        `json:"deployed_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TriggerEvent is an external event normalised for matching. IndexKey may be left
// empty, in which case it is derived from the payload.
type TriggerEvent struct {
	Subtype  TriggerSubtype `json:"trigger_subtype" validate:"required"`
	IndexKey string         `json:"index_key,omitempty"`
	Payload  map[string]any `json:"payload"`
	Time     time.Time      `json:"time"`
}
