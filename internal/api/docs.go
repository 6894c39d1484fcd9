package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OpenAPIJSON serves an OpenAPI v3 document describing the OpsDeck API.
func OpenAPIJSON(c *gin.Context) {
	spec := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "OpsDeck API",
			"version":     "1.0.0",
			"description": "Self-hosted developer console: projects, git, agents, scans, alerts and host administration.",
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"parameters": map[string]any{
				"OpsDeckVersion": map[string]any{
					"name": "OpsDeck-Version", "in": "header", "required": false,
					"description": "Optional API version header. Defaults to 2026-08-01.",
					"schema":      map[string]any{"type": "string", "example": "2026-08-01"},
				},
				"IdempotencyKey": map[string]any{
					"name": "Idempotency-Key", "in": "header", "required": false,
					"description": "Provide for POST mutations to safely retry. First 2xx response is cached for 24h.",
					"schema":      map[string]any{"type": "string", "example": "req_6a84c5e9e2a14d0a"},
				},
			},
			"schemas": map[string]any{
				"RegisterRequest": map[string]any{"type": "object", "required": []string{"full_name", "email", "password"}, "properties": map[string]any{
					"full_name": map[string]any{"type": "string"},
					"email":     map[string]any{"type": "string", "format": "email"},
					"password":  map[string]any{"type": "string", "format": "password"},
				}},
				"LoginRequest": map[string]any{"type": "object", "required": []string{"email", "password"}, "properties": map[string]any{
					"email":    map[string]any{"type": "string", "format": "email"},
					"password": map[string]any{"type": "string", "format": "password"},
				}},
				"Project": map[string]any{"type": "object", "properties": map[string]any{
					"id":          map[string]any{"type": "string", "format": "uuid"},
					"name":        map[string]any{"type": "string"},
					"path":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string", "nullable": true},
					"git_repo":    map[string]any{"type": "boolean"},
					"created_at":  map[string]any{"type": "string", "format": "date-time"},
				}},
				"Agent": map[string]any{"type": "object", "properties": map[string]any{
					"id":              map[string]any{"type": "string", "format": "uuid"},
					"project_id":      map[string]any{"type": "string", "format": "uuid", "nullable": true},
					"name":            map[string]any{"type": "string"},
					"command":         map[string]any{"type": "string"},
					"working_dir":     map[string]any{"type": "string", "nullable": true},
					"trigger_type":    map[string]any{"type": "string", "enum": []any{"manual", "file", "schedule", "git_hook"}},
					"trigger_spec":    map[string]any{"type": "string", "nullable": true},
					"timeout_seconds": map[string]any{"type": "integer"},
					"enabled":         map[string]any{"type": "boolean"},
					"created_at":      map[string]any{"type": "string", "format": "date-time"},
				}},
				"AgentRun": map[string]any{"type": "object", "properties": map[string]any{
					"id":          map[string]any{"type": "string", "format": "uuid"},
					"agent_id":    map[string]any{"type": "string", "format": "uuid"},
					"trigger":     map[string]any{"type": "string"},
					"status":      map[string]any{"type": "string", "enum": []any{"running", "succeeded", "failed", "timed_out"}},
					"exit_code":   map[string]any{"type": "integer", "nullable": true},
					"output":      map[string]any{"type": "string"},
					"started_at":  map[string]any{"type": "string", "format": "date-time"},
					"finished_at": map[string]any{"type": "string", "format": "date-time", "nullable": true},
				}},
				"Scan": map[string]any{"type": "object", "properties": map[string]any{
					"id":             map[string]any{"type": "string", "format": "uuid"},
					"project_id":     map[string]any{"type": "string", "format": "uuid"},
					"tool":           map[string]any{"type": "string"},
					"status":         map[string]any{"type": "string", "enum": []any{"queued", "running", "canceling", "succeeded", "failed", "canceled"}},
					"findings_count": map[string]any{"type": "integer", "nullable": true},
					"output":         map[string]any{"type": "string"},
					"error":          map[string]any{"type": "string", "nullable": true},
					"queued_at":      map[string]any{"type": "string", "format": "date-time"},
					"started_at":     map[string]any{"type": "string", "format": "date-time", "nullable": true},
					"finished_at":    map[string]any{"type": "string", "format": "date-time", "nullable": true},
				}},
				"AlertRule": map[string]any{"type": "object", "properties": map[string]any{
					"id":             map[string]any{"type": "string", "format": "uuid"},
					"name":           map[string]any{"type": "string"},
					"kind":           map[string]any{"type": "string", "enum": []any{"disk_usage", "scan_findings", "agent_failures"}},
					"threshold":      map[string]any{"type": "number"},
					"window_minutes": map[string]any{"type": "integer"},
					"webhook_url":    map[string]any{"type": "string", "nullable": true},
					"enabled":        map[string]any{"type": "boolean"},
				}},
				"User": map[string]any{"type": "object", "properties": map[string]any{
					"id":         map[string]any{"type": "string", "format": "uuid"},
					"full_name":  map[string]any{"type": "string"},
					"email":      map[string]any{"type": "string", "format": "email"},
					"role":       map[string]any{"type": "string", "enum": []any{"admin", "viewer"}},
					"created_at": map[string]any{"type": "string", "format": "date-time"},
					"updated_at": map[string]any{"type": "string", "format": "date-time"},
				}},
			},
		},
		"paths": map[string]any{
			"/auth/register": map[string]any{
				"post": map[string]any{
					"summary":     "Register user (first user becomes admin)",
					"requestBody": map[string]any{"required": true, "content": map[string]any{"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/RegisterRequest"}}}},
					"responses":   map[string]any{"201": map[string]any{"description": "Created"}},
				},
			},
			"/auth/login": map[string]any{
				"post": map[string]any{
					"summary":     "Login user",
					"requestBody": map[string]any{"required": true, "content": map[string]any{"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/LoginRequest"}}}},
					"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
				},
			},
			"/projects": map[string]any{
				"get":  map[string]any{"summary": "List projects", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post": map[string]any{"summary": "Register project", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/discover": map[string]any{
				"post": map[string]any{"summary": "Discover projects under the workspace root", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Get project", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"put":        map[string]any{"summary": "Update project", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"delete":     map[string]any{"summary": "Unregister project", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}/files": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "List directory entries (?path=)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}/files/content": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Read file (?path=)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"put":        map[string]any{"summary": "Write file (?path=)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"delete":     map[string]any{"summary": "Delete file (?path=)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}/backup": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Download gzipped tar of the project tree", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post":       map[string]any{"summary": "Archive the project into the backup directory", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}/backups": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "List server-side backup archives", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}/scans": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"post":       map[string]any{"summary": "Enqueue scan for this project (202 Accepted)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}/git/status": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Git status", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}/git/log": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Git log (?limit=)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/projects/{projectId}/git/commit": map[string]any{
				"parameters": []any{map[string]any{"name": "projectId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"post":       map[string]any{"summary": "Commit", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/scans": map[string]any{
				"get":  map[string]any{"summary": "List scans", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post": map[string]any{"summary": "Enqueue scan (202 Accepted)", "security": []any{map[string]any{"bearerAuth": []any{}}}, "parameters": []any{map[string]any{"$ref": "#/components/parameters/IdempotencyKey"}, map[string]any{"$ref": "#/components/parameters/OpsDeckVersion"}}},
			},
			"/scans/queue": map[string]any{
				"get": map[string]any{"summary": "Queue status", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/scans/tools": map[string]any{
				"get": map[string]any{"summary": "Registered scan tools", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/scans/{scanId}": map[string]any{
				"parameters": []any{map[string]any{"name": "scanId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Get scan", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/scans/{scanId}/cancel": map[string]any{
				"parameters": []any{map[string]any{"name": "scanId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"post":       map[string]any{"summary": "Cancel a queued or running scan", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/agents": map[string]any{
				"get":  map[string]any{"summary": "List agents", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post": map[string]any{"summary": "Create agent", "security": []any{map[string]any{"bearerAuth": []any{}}}, "parameters": []any{map[string]any{"$ref": "#/components/parameters/IdempotencyKey"}, map[string]any{"$ref": "#/components/parameters/OpsDeckVersion"}}},
			},
			"/agents/{agentId}": map[string]any{
				"parameters": []any{map[string]any{"name": "agentId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Get agent", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"put":        map[string]any{"summary": "Update agent", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"delete":     map[string]any{"summary": "Delete agent", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/agents/{agentId}/run": map[string]any{
				"parameters": []any{map[string]any{"name": "agentId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"post":       map[string]any{"summary": "Trigger agent manually", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/agents/{agentId}/runs": map[string]any{
				"parameters": []any{map[string]any{"name": "agentId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "List agent runs", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/runs/{runId}": map[string]any{
				"parameters": []any{map[string]any{"name": "runId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "Get agent run", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/hooks/git/{agentId}": map[string]any{
				"parameters": []any{map[string]any{"name": "agentId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"post":       map[string]any{"summary": "Git hook trigger (token auth via ?token=)"},
			},
			"/alerts/rules": map[string]any{
				"get":  map[string]any{"summary": "List alert rules", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post": map[string]any{"summary": "Create alert rule", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/alerts/rules/{ruleId}/events": map[string]any{
				"parameters": []any{map[string]any{"name": "ruleId", "in": "path", "required": true, "schema": map[string]any{"type": "string", "format": "uuid"}}},
				"get":        map[string]any{"summary": "List a rule's alert events", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/alerts/events": map[string]any{
				"get": map[string]any{"summary": "List alert events", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/system/users": map[string]any{
				"get":  map[string]any{"summary": "List Linux users (admin)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post": map[string]any{"summary": "Create Linux user (admin)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/system/firewall": map[string]any{
				"get":  map[string]any{"summary": "UFW status and rules (admin)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post": map[string]any{"summary": "Add UFW rule (admin)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/idp/users": map[string]any{
				"get":  map[string]any{"summary": "List Authentik users (admin)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"post": map[string]any{"summary": "Create Authentik user (admin)", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/events/stream": map[string]any{
				"get": map[string]any{"summary": "Websocket event stream (scan/agent/alert events)"},
			},
			"/me": map[string]any{
				"get": map[string]any{"summary": "Get current user", "security": []any{map[string]any{"bearerAuth": []any{}}}},
				"put": map[string]any{"summary": "Update current user", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/me/password": map[string]any{
				"put": map[string]any{"summary": "Change password", "security": []any{map[string]any{"bearerAuth": []any{}}}},
			},
			"/sso/authentik/start": map[string]any{
				"get": map[string]any{"summary": "Begin Authentik OIDC login (redirect)"},
			},
			"/sso/authentik/callback": map[string]any{
				"get": map[string]any{"summary": "Authentik OIDC callback"},
			},
			"/healthz": map[string]any{"get": map[string]any{"summary": "Liveness"}},
			"/readyz":  map[string]any{"get": map[string]any{"summary": "Readiness"}},
		},
	}
	c.JSON(http.StatusOK, spec)
}

// SwaggerUI serves a lightweight Swagger UI page referencing /openapi.json.
func SwaggerUI(c *gin.Context) {
	html := `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>OpsDeck API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  <style>body { margin:0; background:#0b0b0b } .swagger-ui .topbar { display:none }</style>
  </head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.json',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
