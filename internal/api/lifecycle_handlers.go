package api

import (
	"database/sql"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/scan"
)

const scanColumns = `id, project_id, tool, status, findings_count, output, error, queued_at, started_at, finished_at`

// EnqueueScan queues a tool run against a project. Returns 202: the scan
// starts when a worker slot frees up.
func EnqueueScan(c *gin.Context) {
	var req EnqueueScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	var p database.Project
	err := database.DB.Get(&p, `SELECT id, name, path, description, created_at, updated_at FROM projects WHERE id=$1`, req.ProjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
		}
		return
	}
	s, err := scanManager.Enqueue(c.Request.Context(), p.ID, p.Path, req.Tool)
	if err != nil {
		if errors.Is(err, scan.ErrUnknownTool) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown tool: " + req.Tool})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue scan: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, s)
}

// EnqueueProjectScan is the project-scoped enqueue: the project comes from
// the path and the body carries only the tool name.
func EnqueueProjectScan(c *gin.Context) {
	p, ok := projectFrom(c)
	if !ok {
		return
	}
	var req struct {
		Tool string `json:"tool" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	s, err := scanManager.Enqueue(c.Request.Context(), p.ID, p.Path, req.Tool)
	if err != nil {
		if errors.Is(err, scan.ErrUnknownTool) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown tool: " + req.Tool})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue scan: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, s)
}

// GetScans lists scans, newest first (?project_id=, ?status=, ?limit=)
func GetScans(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := parseLimit(v, 1000); err == nil {
			limit = n
		}
	}
	query := `SELECT ` + scanColumns + ` FROM scans`
	args := []interface{}{}
	where := []string{}
	if pid := c.Query("project_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project_id"})
			return
		}
		args = append(args, id)
		where = append(where, "project_id = $1")
	}
	if st := c.Query("status"); st != "" {
		args = append(args, st)
		if len(where) == 0 {
			where = append(where, "status = $1")
		} else {
			where = append(where, "status = $2")
		}
	}
	if len(where) > 0 {
		query += " WHERE " + where[0]
		if len(where) > 1 {
			query += " AND " + where[1]
		}
	}
	if len(args) == 0 {
		query += " ORDER BY queued_at DESC LIMIT $1"
	} else if len(args) == 1 {
		query += " ORDER BY queued_at DESC LIMIT $2"
	} else {
		query += " ORDER BY queued_at DESC LIMIT $3"
	}
	args = append(args, limit)

	var scans []database.Scan
	err := database.DB.Select(&scans, query, args...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve scans"})
		return
	}
	c.JSON(http.StatusOK, scans)
}

// GetScan returns one scan with its captured output
func GetScan(c *gin.Context) {
	scanID, err := uuid.Parse(c.Param("scanId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scan ID format"})
		return
	}
	var s database.Scan
	err = database.DB.Get(&s, `SELECT `+scanColumns+` FROM scans WHERE id=$1`, scanID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve scan"})
		}
		return
	}
	c.JSON(http.StatusOK, s)
}

// CancelScan cancels a queued or running scan. A queued scan flips straight
// to canceled; a running one is killed and reported as canceling until the
// worker confirms.
func CancelScan(c *gin.Context) {
	scanID, err := uuid.Parse(c.Param("scanId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scan ID format"})
		return
	}
	status, err := scanManager.Cancel(c.Request.Context(), scanID)
	if err != nil {
		if errors.Is(err, scan.ErrNotActive) {
			// distinguish unknown id from already-terminal
			var exists int
			switch dbErr := database.DB.Get(&exists, `SELECT 1 FROM scans WHERE id=$1`, scanID); dbErr {
			case nil:
				c.JSON(http.StatusConflict, gin.H{"error": "Scan already finished"})
			case sql.ErrNoRows:
				c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check scan state"})
			}
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel scan: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": scanID, "status": status})
}

// GetScanQueue reports worker occupancy and queue depth
func GetScanQueue(c *gin.Context) {
	c.JSON(http.StatusOK, scanManager.Status())
}

// GetScanTools lists the registered tools
func GetScanTools(c *gin.Context) {
	tools := scanManager.Tools()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		t := tools[name]
		out = append(out, gin.H{
			"name":            t.Name,
			"description":     t.Description,
			"timeout_seconds": t.TimeoutSeconds,
			"parser":          t.Parser,
		})
	}
	c.JSON(http.StatusOK, out)
}
