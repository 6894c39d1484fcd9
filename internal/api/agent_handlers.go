package api

import (
	"crypto/subtle"
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/agent"
)

const agentColumns = `id, project_id, name, command, working_dir, trigger_type, trigger_spec,
	timeout_seconds, enabled, created_by_user_id, created_at, updated_at`

// reloadTriggers tells the trigger engine to re-read agents after CRUD.
func reloadTriggers(c *gin.Context) {
	if agentEngine == nil {
		return
	}
	if err := agentEngine.Reload(c.Request.Context()); err != nil {
		log.Printf("trigger reload failed: %v", err)
	}
}

// CreateAgent handles requests to create a new agent
func CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	userIDStr, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User ID not found in context"})
		return
	}
	userID, err := uuid.Parse(userIDStr.(string))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user ID format in context"})
		return
	}

	triggerSpec := req.TriggerSpec
	switch req.TriggerType {
	case "file":
		if triggerSpec == nil || *triggerSpec == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file trigger requires a glob in trigger_spec"})
			return
		}
	case "schedule":
		if triggerSpec == nil || *triggerSpec == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "schedule trigger requires a cron expression in trigger_spec"})
			return
		}
	case "git_hook":
		// trigger_spec holds the hook token; generate one if absent
		if triggerSpec == nil || *triggerSpec == "" {
			tok := strings.ReplaceAll(uuid.New().String(), "-", "")
			triggerSpec = &tok
		}
	}

	timeout := 300
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds > 0 {
		timeout = *req.TimeoutSeconds
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	newAgent := database.Agent{
		ID:              uuid.New(),
		ProjectID:       req.ProjectID,
		Name:            req.Name,
		Command:         req.Command,
		WorkingDir:      req.WorkingDir,
		TriggerType:     req.TriggerType,
		TriggerSpec:     triggerSpec,
		TimeoutSeconds:  timeout,
		Enabled:         enabled,
		CreatedByUserID: userID,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	query := `INSERT INTO agents (id, project_id, name, command, working_dir, trigger_type, trigger_spec,
			timeout_seconds, enabled, created_by_user_id, created_at, updated_at)
		VALUES (:id, :project_id, :name, :command, :working_dir, :trigger_type, :trigger_spec,
			:timeout_seconds, :enabled, :created_by_user_id, :created_at, :updated_at)`
	_, err = database.DB.NamedExec(query, newAgent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create agent: " + err.Error()})
		return
	}

	reloadTriggers(c)
	c.JSON(http.StatusCreated, newAgent)
}

// GetAgents lists all agents
func GetAgents(c *gin.Context) {
	var agents []database.Agent
	err := database.DB.Select(&agents, `SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve agents: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, agents)
}

// GetAgent returns a single agent by id
func GetAgent(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("agentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent ID format"})
		return
	}
	var ag database.Agent
	err = database.DB.Get(&ag, `SELECT `+agentColumns+` FROM agents WHERE id=$1`, agentID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve agent"})
		}
		return
	}
	c.JSON(http.StatusOK, ag)
}

// UpdateAgent applies a partial update
func UpdateAgent(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("agentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent ID format"})
		return
	}
	var req UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	setClauses := []string{}
	args := map[string]interface{}{"id": agentID}
	if req.Name != nil {
		setClauses = append(setClauses, "name = :name")
		args["name"] = *req.Name
	}
	if req.ProjectID != nil {
		setClauses = append(setClauses, "project_id = :project_id")
		args["project_id"] = *req.ProjectID
	}
	if req.Command != nil {
		setClauses = append(setClauses, "command = :command")
		args["command"] = *req.Command
	}
	if req.WorkingDir != nil {
		setClauses = append(setClauses, "working_dir = :working_dir")
		args["working_dir"] = *req.WorkingDir
	}
	if req.TriggerType != nil {
		switch *req.TriggerType {
		case "manual", "file", "schedule", "git_hook":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid trigger_type"})
			return
		}
		setClauses = append(setClauses, "trigger_type = :trigger_type")
		args["trigger_type"] = *req.TriggerType
	}
	if req.TriggerSpec != nil {
		setClauses = append(setClauses, "trigger_spec = :trigger_spec")
		args["trigger_spec"] = *req.TriggerSpec
	}
	if req.TimeoutSeconds != nil {
		setClauses = append(setClauses, "timeout_seconds = :timeout_seconds")
		args["timeout_seconds"] = *req.TimeoutSeconds
	}
	if req.Enabled != nil {
		setClauses = append(setClauses, "enabled = :enabled")
		args["enabled"] = *req.Enabled
	}
	if len(setClauses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No updatable fields provided"})
		return
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := "UPDATE agents SET " + strings.Join(setClauses, ", ") + " WHERE id = :id"
	result, err := database.DB.NamedExec(query, args)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update agent"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	}
	reloadTriggers(c)
	GetAgent(c)
}

// DeleteAgent removes an agent and its run history (cascade)
func DeleteAgent(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("agentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent ID format"})
		return
	}
	result, err := database.DB.Exec(`DELETE FROM agents WHERE id=$1`, agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete agent"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	}
	reloadTriggers(c)
	c.JSON(http.StatusOK, gin.H{"message": "Agent deleted"})
}

// loadAgentWithDir fetches an agent plus the directory its command runs in.
func loadAgentWithDir(agentID uuid.UUID) (*database.Agent, string, error) {
	var row struct {
		database.Agent
		ProjectPath *string `db:"project_path"`
	}
	err := database.DB.Get(&row, `SELECT a.id, a.project_id, a.name, a.command, a.working_dir,
			a.trigger_type, a.trigger_spec, a.timeout_seconds, a.enabled, a.created_by_user_id,
			a.created_at, a.updated_at, p.path AS project_path
		FROM agents a LEFT JOIN projects p ON p.id = a.project_id
		WHERE a.id=$1`, agentID)
	if err != nil {
		return nil, "", err
	}
	dir := ""
	if row.WorkingDir != nil && *row.WorkingDir != "" {
		dir = *row.WorkingDir
	} else if row.ProjectPath != nil {
		dir = *row.ProjectPath
	}
	return &row.Agent, dir, nil
}

// RunAgent triggers an agent manually. Returns 202 with the run row, or 409
// if the agent is already running.
func RunAgent(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("agentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent ID format"})
		return
	}
	ag, dir, err := loadAgentWithDir(agentID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load agent"})
		}
		return
	}
	if !ag.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": "Agent is disabled"})
		return
	}
	run, err := agentRunner.Start(c.Request.Context(), *ag, dir, "manual")
	if err != nil {
		if err == agent.ErrBusy {
			c.JSON(http.StatusConflict, gin.H{"error": "Agent is already running"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start agent: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// GetAgentRuns lists recent runs for an agent (?limit=, default 50)
func GetAgentRuns(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("agentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent ID format"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err2 := parseLimit(v, 500); err2 == nil {
			limit = n
		}
	}
	var runs []database.AgentRun
	err = database.DB.Select(&runs, `SELECT id, agent_id, trigger, status, exit_code, output, started_at, finished_at
		FROM agent_runs WHERE agent_id=$1 ORDER BY started_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve runs"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetAgentRun returns a single run by ID.
func GetAgentRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID format"})
		return
	}
	var run database.AgentRun
	err = database.DB.Get(&run, `SELECT id, agent_id, trigger, status, exit_code, output, started_at, finished_at
		FROM agent_runs WHERE id=$1`, runID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve run"})
		}
		return
	}
	c.JSON(http.StatusOK, run)
}

// parseLimit parses a ?limit= query value, capped at max.
func parseLimit(v string, max int) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	if n > max {
		n = max
	}
	return n, nil
}

// GitHookTrigger fires a git_hook agent. Authenticated by the token stored
// in trigger_spec (passed as ?token=), not by JWT, so a bare curl from a
// post-receive hook works.
func GitHookTrigger(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("agentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent ID format"})
		return
	}
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	ag, dir, err := loadAgentWithDir(agentID)
	if err != nil {
		// Don't leak whether the agent exists to unauthenticated callers
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if ag.TriggerType != "git_hook" || ag.TriggerSpec == nil ||
		subtle.ConstantTimeCompare([]byte(*ag.TriggerSpec), []byte(token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if !ag.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": "Agent is disabled"})
		return
	}
	run, err := agentRunner.Start(c.Request.Context(), *ag, dir, "git_hook")
	if err != nil {
		if err == agent.ErrBusy {
			c.JSON(http.StatusConflict, gin.H{"error": "Agent is already running"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start agent"})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Triggered", "run_id": run.ID})
}
