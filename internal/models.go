package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents the 'users' table. A fresh install has no users; the first
// registration becomes the admin operator.
type User struct {
	ID             uuid.UUID `db:"id" json:"id"`
	FullName       string    `db:"full_name" json:"full_name"`
	Email          string    `db:"email" json:"email"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	Role           string    `db:"role" json:"role"` // "admin" or "viewer"
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Project represents the 'projects' table: a directory on the host that the
// console operates on.
type Project struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Path        string    `db:"path" json:"path"`
	Description *string   `db:"description" json:"description"` // *string for nullable fields
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Agent represents the 'agents' table: a canned shell command with a trigger.
type Agent struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ProjectID       *uuid.UUID `db:"project_id" json:"project_id"` // nullable; host-level agents have none
	Name            string     `db:"name" json:"name"`
	Command         string     `db:"command" json:"command"`
	WorkingDir      *string    `db:"working_dir" json:"working_dir"`
	TriggerType     string     `db:"trigger_type" json:"trigger_type"` // manual|file|schedule|git_hook
	TriggerSpec     *string    `db:"trigger_spec" json:"trigger_spec"` // glob, cron expression, or hook token
	TimeoutSeconds  int        `db:"timeout_seconds" json:"timeout_seconds"`
	Enabled         bool       `db:"enabled" json:"enabled"`
	CreatedByUserID uuid.UUID  `db:"created_by_user_id" json:"created_by_user_id"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// AgentRun represents the 'agent_runs' table.
type AgentRun struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	AgentID    uuid.UUID  `db:"agent_id" json:"agent_id"`
	Trigger    string     `db:"trigger" json:"trigger"` // manual|file|schedule|git_hook
	Status     string     `db:"status" json:"status"`   // running|succeeded|failed|timed_out
	ExitCode   *int       `db:"exit_code" json:"exit_code"`
	Output     string     `db:"output" json:"output"` // combined output, capped
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at"`
}

// AlertRule represents the 'alert_rules' table.
type AlertRule struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Kind          string    `db:"kind" json:"kind"` // disk_usage|scan_findings|agent_failures
	Threshold     float64   `db:"threshold" json:"threshold"`
	WindowMinutes int       `db:"window_minutes" json:"window_minutes"`
	WebhookURL    *string   `db:"webhook_url" json:"webhook_url"`
	Enabled       bool      `db:"enabled" json:"enabled"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// AlertEvent represents the 'alert_events' table.
type AlertEvent struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RuleID         uuid.UUID  `db:"rule_id" json:"rule_id"`
	Message        string     `db:"message" json:"message"`
	Value          float64    `db:"value" json:"value"`
	FiredAt        time.Time  `db:"fired_at" json:"fired_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at"`
}

// Scan represents the 'scans' table: one external tool run against a project.
type Scan struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ProjectID     uuid.UUID  `db:"project_id" json:"project_id"`
	Tool          string     `db:"tool" json:"tool"`
	Status        string     `db:"status" json:"status"` // queued|running|succeeded|failed|canceled
	FindingsCount *int       `db:"findings_count" json:"findings_count"`
	Output        string     `db:"output" json:"output"` // capped tool output
	Error         *string    `db:"error" json:"error"`
	QueuedAt      time.Time  `db:"queued_at" json:"queued_at"`
	StartedAt     *time.Time `db:"started_at" json:"started_at"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at"`
}

// Plan represents the 'plans' table: a lightweight checklist the operator
// tracks work against.
type Plan struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description *string         `db:"description" json:"description"`
	Status      string          `db:"status" json:"status"` // draft|active|done
	Steps       json.RawMessage `db:"steps" json:"steps"`   // [{"title": ..., "done": bool}]
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Theme represents the 'themes' table: a dashboard color palette.
type Theme struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Palette   json.RawMessage `db:"palette" json:"palette"`
	IsDefault bool            `db:"is_default" json:"is_default"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}
