package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RegisterRequest defines the expected JSON body for user registration
type RegisterRequest struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"` // Enforce minimum password length
}
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateProjectRequest struct {
	Name        string  `json:"name" binding:"required"`
	Path        string  `json:"path" binding:"required"`
	Description *string `json:"description"` // Optional field
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ProjectResponse is the standard structure for returning project data.
type ProjectResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Description *string   `json:"description,omitempty"`
	GitRepo     bool      `json:"git_repo"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateAgentRequest struct {
	Name           string     `json:"name" binding:"required"`
	ProjectID      *uuid.UUID `json:"project_id"`
	Command        string     `json:"command" binding:"required"`
	WorkingDir     *string    `json:"working_dir"`
	TriggerType    string     `json:"trigger_type" binding:"required,oneof=manual file schedule git_hook"`
	TriggerSpec    *string    `json:"trigger_spec"`
	TimeoutSeconds *int       `json:"timeout_seconds"`
	Enabled        *bool      `json:"enabled"`
}

type UpdateAgentRequest struct {
	Name           *string    `json:"name,omitempty"`
	ProjectID      *uuid.UUID `json:"project_id,omitempty"`
	Command        *string    `json:"command,omitempty"`
	WorkingDir     *string    `json:"working_dir,omitempty"`
	TriggerType    *string    `json:"trigger_type,omitempty"`
	TriggerSpec    *string    `json:"trigger_spec,omitempty"`
	TimeoutSeconds *int       `json:"timeout_seconds,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
}

type CreateAlertRuleRequest struct {
	Name          string  `json:"name" binding:"required"`
	Kind          string  `json:"kind" binding:"required,oneof=disk_usage scan_findings agent_failures"`
	Threshold     float64 `json:"threshold" binding:"required"`
	WindowMinutes *int    `json:"window_minutes"`
	WebhookURL    *string `json:"webhook_url"`
	Enabled       *bool   `json:"enabled"`
}

type UpdateAlertRuleRequest struct {
	Name          *string  `json:"name,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
	WindowMinutes *int     `json:"window_minutes,omitempty"`
	WebhookURL    *string  `json:"webhook_url,omitempty"`
	Enabled       *bool    `json:"enabled,omitempty"`
}

type EnqueueScanRequest struct {
	ProjectID uuid.UUID `json:"project_id" binding:"required"`
	Tool      string    `json:"tool" binding:"required"`
}

type CommitRequest struct {
	Message string `json:"message" binding:"required"`
	AddAll  bool   `json:"add_all"`
}

type CheckoutRequest struct {
	Branch string `json:"branch" binding:"required"`
	Create bool   `json:"create"`
}

type WriteFileRequest struct {
	Content string `json:"content"`
}

type CreatePlanRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description *string         `json:"description"`
	Steps       json.RawMessage `json:"steps"`
}

type UpdatePlanRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Status      *string         `json:"status,omitempty"`
	Steps       json.RawMessage `json:"steps,omitempty"`
}

type ToggleStepRequest struct {
	Done *bool `json:"done"`
}

type CreateThemeRequest struct {
	Name      string          `json:"name" binding:"required"`
	Palette   json.RawMessage `json:"palette" binding:"required"`
	IsDefault bool            `json:"is_default"`
}

type UpdateThemeRequest struct {
	Name    *string         `json:"name,omitempty"`
	Palette json.RawMessage `json:"palette,omitempty"`
}

type CreateSystemUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

type AddFirewallRuleRequest struct {
	Action string `json:"action" binding:"required,oneof=allow deny"`
	Port   string `json:"port" binding:"required"`
	Proto  string `json:"proto"`
	From   string `json:"from"`
}
