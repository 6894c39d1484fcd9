package api

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/gitcli"
)

// WorkspaceRoot returns the directory projects are discovered under.
func WorkspaceRoot() string {
	if v := strings.TrimSpace(os.Getenv("OPSDECK_WORKSPACE_ROOT")); v != "" {
		return v
	}
	return "/srv/projects"
}

func projectToResponse(ctx context.Context, p database.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Path:        p.Path,
		Description: p.Description,
		GitRepo:     gitcli.IsRepo(ctx, p.Path),
		CreatedAt:   p.CreatedAt,
	}
}

// CreateProject registers an existing directory as a project
func CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	path := filepath.Clean(req.Path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(WorkspaceRoot(), path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path does not exist or is not a directory"})
		return
	}

	newProject := database.Project{
		ID:          uuid.New(),
		Name:        req.Name,
		Path:        path,
		Description: req.Description,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	query := `INSERT INTO projects (id, name, path, description, created_at, updated_at)
	          VALUES (:id, :name, :path, :description, :created_at, :updated_at)`
	_, err = database.DB.NamedExec(query, newProject)
	if err != nil {
		if strings.Contains(err.Error(), "unique constraint") {
			c.JSON(http.StatusConflict, gin.H{"error": "A project with that name or path already exists"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, projectToResponse(c.Request.Context(), newProject))
}

// GetProjects lists all registered projects
func GetProjects(c *gin.Context) {
	var projects []database.Project
	query := `SELECT id, name, path, description, created_at, updated_at FROM projects ORDER BY name`
	err := database.DB.Select(&projects, query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve projects: " + err.Error()})
		return
	}
	resp := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, projectToResponse(c.Request.Context(), p))
	}
	c.JSON(http.StatusOK, resp)
}

// GetProject returns a single project by id
func GetProject(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID format"})
		return
	}
	var p database.Project
	query := `SELECT id, name, path, description, created_at, updated_at FROM projects WHERE id=$1`
	err = database.DB.Get(&p, query, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve project"})
		}
		return
	}
	c.JSON(http.StatusOK, projectToResponse(c.Request.Context(), p))
}

// UpdateProject changes a project's name or description. The path is
// immutable after registration.
func UpdateProject(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID format"})
		return
	}
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Name == nil && req.Description == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No updatable fields provided"})
		return
	}

	setClauses := []string{}
	args := map[string]interface{}{"id": projectID}
	if req.Name != nil {
		setClauses = append(setClauses, "name = :name")
		args["name"] = *req.Name
	}
	if req.Description != nil {
		setClauses = append(setClauses, "description = :description")
		args["description"] = *req.Description
	}
	setClauses = append(setClauses, "updated_at = NOW()")
	query := "UPDATE projects SET " + strings.Join(setClauses, ", ") + " WHERE id = :id"
	result, err := database.DB.NamedExec(query, args)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update project"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	GetProject(c)
}

// DeleteProject unregisters a project. The directory on disk is left alone.
func DeleteProject(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID format"})
		return
	}
	result, err := database.DB.Exec(`DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete project"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted"})
}

// DiscoverProjects walks the workspace root and registers every directory
// that is not already a project. Hidden directories are skipped.
func DiscoverProjects(c *gin.Context) {
	root := WorkspaceRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cannot read workspace root: " + err.Error()})
		return
	}

	var existing []string
	if err := database.DB.Select(&existing, `SELECT path FROM projects`); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list registered projects"})
		return
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p] = true
	}

	added := []ProjectResponse{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(root, e.Name())
		if known[path] {
			continue
		}
		p := database.Project{
			ID:        uuid.New(),
			Name:      e.Name(),
			Path:      path,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		_, err := database.DB.NamedExec(`INSERT INTO projects (id, name, path, description, created_at, updated_at)
			VALUES (:id, :name, :path, :description, :created_at, :updated_at)`, p)
		if err != nil {
			// name collision with an existing project; skip, keep discovering
			continue
		}
		added = append(added, projectToResponse(c.Request.Context(), p))
	}
	c.JSON(http.StatusOK, gin.H{"discovered": added, "count": len(added)})
}
