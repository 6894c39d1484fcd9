package api

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

const alertRuleColumns = `id, name, kind, threshold, window_minutes, webhook_url, enabled, created_at, updated_at`

// CreateAlertRule registers a new threshold rule
func CreateAlertRule(c *gin.Context) {
	var req CreateAlertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	window := 60
	if req.WindowMinutes != nil && *req.WindowMinutes > 0 {
		window = *req.WindowMinutes
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := database.AlertRule{
		ID:            uuid.New(),
		Name:          req.Name,
		Kind:          req.Kind,
		Threshold:     req.Threshold,
		WindowMinutes: window,
		WebhookURL:    req.WebhookURL,
		Enabled:       enabled,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	query := `INSERT INTO alert_rules (id, name, kind, threshold, window_minutes, webhook_url, enabled, created_at, updated_at)
		VALUES (:id, :name, :kind, :threshold, :window_minutes, :webhook_url, :enabled, :created_at, :updated_at)`
	_, err := database.DB.NamedExec(query, rule)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert rule: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetAlertRules lists all rules
func GetAlertRules(c *gin.Context) {
	var rules []database.AlertRule
	err := database.DB.Select(&rules, `SELECT `+alertRuleColumns+` FROM alert_rules ORDER BY created_at DESC`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alert rules"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetAlertRule returns one rule
func GetAlertRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("ruleId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID format"})
		return
	}
	var rule database.AlertRule
	err = database.DB.Get(&rule, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE id=$1`, ruleID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert rule not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alert rule"})
		}
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateAlertRule applies a partial update
func UpdateAlertRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("ruleId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID format"})
		return
	}
	var req UpdateAlertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	setClauses := []string{}
	args := map[string]interface{}{"id": ruleID}
	if req.Name != nil {
		setClauses = append(setClauses, "name = :name")
		args["name"] = *req.Name
	}
	if req.Threshold != nil {
		setClauses = append(setClauses, "threshold = :threshold")
		args["threshold"] = *req.Threshold
	}
	if req.WindowMinutes != nil {
		setClauses = append(setClauses, "window_minutes = :window_minutes")
		args["window_minutes"] = *req.WindowMinutes
	}
	if req.WebhookURL != nil {
		setClauses = append(setClauses, "webhook_url = :webhook_url")
		args["webhook_url"] = *req.WebhookURL
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

	query := "UPDATE alert_rules SET " + strings.Join(setClauses, ", ") + " WHERE id = :id"
	result, err := database.DB.NamedExec(query, args)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update alert rule"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert rule not found"})
		return
	}
	GetAlertRule(c)
}

// DeleteAlertRule removes a rule and its events (cascade)
func DeleteAlertRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("ruleId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID format"})
		return
	}
	result, err := database.DB.Exec(`DELETE FROM alert_rules WHERE id=$1`, ruleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete alert rule"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Alert rule deleted"})
}

// GetAlertEvents lists fired events, newest first (?limit=, ?unacknowledged=true)
func GetAlertEvents(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := parseLimit(v, 1000); err == nil {
			limit = n
		}
	}
	query := `SELECT id, rule_id, message, value, fired_at, acknowledged_at FROM alert_events`
	if c.Query("unacknowledged") == "true" {
		query += ` WHERE acknowledged_at IS NULL`
	}
	query += ` ORDER BY fired_at DESC LIMIT $1`

	var events []database.AlertEvent
	err := database.DB.Select(&events, query, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alert events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetAlertRuleEvents lists a single rule's fired events, newest first.
func GetAlertRuleEvents(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("ruleId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID format"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := parseLimit(v, 1000); err == nil {
			limit = n
		}
	}
	var events []database.AlertEvent
	err = database.DB.Select(&events, `SELECT id, rule_id, message, value, fired_at, acknowledged_at
		FROM alert_events WHERE rule_id=$1 ORDER BY fired_at DESC LIMIT $2`, ruleID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alert events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// AckAlertEvent marks an event acknowledged, which re-arms the rule's window
func AckAlertEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event ID format"})
		return
	}
	result, err := database.DB.Exec(`UPDATE alert_events SET acknowledged_at=NOW() WHERE id=$1 AND acknowledged_at IS NULL`, eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to acknowledge event"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found or already acknowledged"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Acknowledged"})
}

// TestFireAlertRule fires a rule immediately with a synthetic value so the
// operator can verify webhook delivery end to end.
func TestFireAlertRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("ruleId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID format"})
		return
	}
	var rule database.AlertRule
	err = database.DB.Get(&rule, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE id=$1`, ruleID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert rule not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alert rule"})
		}
		return
	}
	if err := alertChecker.Fire(c.Request.Context(), rule, rule.Threshold, "test fire requested by operator"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fire alert: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Alert fired"})
}
