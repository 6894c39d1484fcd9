package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

const planColumns = `id, name, description, status, steps, created_at, updated_at`

type planStep struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// CreatePlan creates a checklist plan
func CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	steps := req.Steps
	if len(steps) == 0 {
		steps = json.RawMessage("[]")
	} else {
		// validate the step shape up front
		var parsed []planStep
		if err := json.Unmarshal(steps, &parsed); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "steps must be an array of {title, done}"})
			return
		}
	}
	plan := database.Plan{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Status:      "draft",
		Steps:       steps,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	query := `INSERT INTO plans (id, name, description, status, steps, created_at, updated_at)
		VALUES (:id, :name, :description, :status, :steps, :created_at, :updated_at)`
	_, err := database.DB.NamedExec(query, plan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create plan: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// GetPlans lists plans
func GetPlans(c *gin.Context) {
	var plans []database.Plan
	err := database.DB.Select(&plans, `SELECT `+planColumns+` FROM plans ORDER BY created_at DESC`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve plans"})
		return
	}
	c.JSON(http.StatusOK, plans)
}

// GetPlan returns one plan
func GetPlan(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("planId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan ID format"})
		return
	}
	var plan database.Plan
	err = database.DB.Get(&plan, `SELECT `+planColumns+` FROM plans WHERE id=$1`, planID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve plan"})
		}
		return
	}
	c.JSON(http.StatusOK, plan)
}

// UpdatePlan applies a partial update
func UpdatePlan(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("planId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan ID format"})
		return
	}
	var req UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	setClauses := []string{}
	args := map[string]interface{}{"id": planID}
	if req.Name != nil {
		setClauses = append(setClauses, "name = :name")
		args["name"] = *req.Name
	}
	if req.Description != nil {
		setClauses = append(setClauses, "description = :description")
		args["description"] = *req.Description
	}
	if req.Status != nil {
		switch *req.Status {
		case "draft", "active", "done":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
			return
		}
		setClauses = append(setClauses, "status = :status")
		args["status"] = *req.Status
	}
	if len(req.Steps) > 0 {
		var parsed []planStep
		if err := json.Unmarshal(req.Steps, &parsed); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "steps must be an array of {title, done}"})
			return
		}
		setClauses = append(setClauses, "steps = :steps")
		args["steps"] = []byte(req.Steps)
	}
	if len(setClauses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No updatable fields provided"})
		return
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := "UPDATE plans SET " + strings.Join(setClauses, ", ") + " WHERE id = :id"
	result, err := database.DB.NamedExec(query, args)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update plan"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
		return
	}
	GetPlan(c)
}

// ToggleStep flips the done flag on the step named by the :index path param.
// An optional {"done": bool} body forces the flag instead of toggling.
func ToggleStep(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("planId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan ID format"})
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid step index"})
		return
	}
	var req ToggleStepRequest
	_ = c.ShouldBindJSON(&req)

	var plan database.Plan
	err = database.DB.Get(&plan, `SELECT `+planColumns+` FROM plans WHERE id=$1`, planID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve plan"})
		}
		return
	}
	var steps []planStep
	if err := json.Unmarshal(plan.Steps, &steps); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stored steps are malformed"})
		return
	}
	if index < 0 || index >= len(steps) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Step index out of range"})
		return
	}
	if req.Done != nil {
		steps[index].Done = *req.Done
	} else {
		steps[index].Done = !steps[index].Done
	}
	raw, _ := json.Marshal(steps)
	_, err = database.DB.Exec(`UPDATE plans SET steps=$1, updated_at=NOW() WHERE id=$2`, raw, planID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update step"})
		return
	}
	plan.Steps = raw
	c.JSON(http.StatusOK, plan)
}

// DeletePlan removes a plan
func DeletePlan(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("planId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan ID format"})
		return
	}
	result, err := database.DB.Exec(`DELETE FROM plans WHERE id=$1`, planID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete plan"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Plan deleted"})
}
