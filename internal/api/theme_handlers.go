package api

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

const themeColumns = `id, name, palette, is_default, created_at, updated_at`

// CreateTheme stores a dashboard palette. Marking a theme default clears the
// flag on every other theme in the same transaction.
func CreateTheme(c *gin.Context) {
	var req CreateThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	theme := database.Theme{
		ID:        uuid.New(),
		Name:      req.Name,
		Palette:   req.Palette,
		IsDefault: req.IsDefault,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start database transaction"})
		return
	}
	defer func() {
		if err != nil {
			log.Println("Error in CreateTheme, rolling back transaction:", err)
			tx.Rollback()
		}
	}()

	if req.IsDefault {
		if _, err = tx.Exec(`UPDATE themes SET is_default=false, updated_at=NOW() WHERE is_default=true`); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear previous default"})
			return
		}
	}
	_, err = tx.NamedExec(`INSERT INTO themes (id, name, palette, is_default, created_at, updated_at)
		VALUES (:id, :name, :palette, :is_default, :created_at, :updated_at)`, theme)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create theme: " + err.Error()})
		return
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit theme"})
		return
	}
	c.JSON(http.StatusCreated, theme)
}

// GetThemes lists palettes, default first
func GetThemes(c *gin.Context) {
	var themes []database.Theme
	err := database.DB.Select(&themes, `SELECT `+themeColumns+` FROM themes ORDER BY is_default DESC, name`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve themes"})
		return
	}
	c.JSON(http.StatusOK, themes)
}

// UpdateTheme applies a partial update to a palette's name or colors. Default
// switching goes through SetDefaultTheme so the single-default invariant
// stays in one place.
func UpdateTheme(c *gin.Context) {
	themeID, err := uuid.Parse(c.Param("themeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid theme ID format"})
		return
	}
	var req UpdateThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	setClauses := []string{}
	args := map[string]interface{}{"id": themeID}
	if req.Name != nil {
		setClauses = append(setClauses, "name = :name")
		args["name"] = *req.Name
	}
	if len(req.Palette) > 0 {
		setClauses = append(setClauses, "palette = :palette")
		args["palette"] = []byte(req.Palette)
	}
	if len(setClauses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No updatable fields provided"})
		return
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := "UPDATE themes SET " + strings.Join(setClauses, ", ") + " WHERE id = :id"
	result, err := database.DB.NamedExec(query, args)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update theme"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Theme not found"})
		return
	}
	var theme database.Theme
	if err := database.DB.Get(&theme, `SELECT `+themeColumns+` FROM themes WHERE id=$1`, themeID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve theme"})
		return
	}
	c.JSON(http.StatusOK, theme)
}

// SetDefaultTheme makes one theme the default, clearing all others
func SetDefaultTheme(c *gin.Context) {
	themeID, err := uuid.Parse(c.Param("themeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid theme ID format"})
		return
	}

	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start database transaction"})
		return
	}
	defer func() {
		if err != nil {
			log.Println("Error in SetDefaultTheme, rolling back transaction:", err)
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`UPDATE themes SET is_default=false, updated_at=NOW() WHERE is_default=true`); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear previous default"})
		return
	}
	var result sql.Result
	result, err = tx.Exec(`UPDATE themes SET is_default=true, updated_at=NOW() WHERE id=$1`, themeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set default theme"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		err = sql.ErrNoRows // trigger rollback
		c.JSON(http.StatusNotFound, gin.H{"error": "Theme not found"})
		return
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit default change"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Default theme updated"})
}

// DeleteTheme removes a palette. The default theme cannot be deleted.
func DeleteTheme(c *gin.Context) {
	themeID, err := uuid.Parse(c.Param("themeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid theme ID format"})
		return
	}
	var isDefault bool
	err = database.DB.Get(&isDefault, `SELECT is_default FROM themes WHERE id=$1`, themeID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Theme not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve theme"})
		}
		return
	}
	if isDefault {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot delete the default theme"})
		return
	}
	_, err = database.DB.Exec(`DELETE FROM themes WHERE id=$1`, themeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete theme"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Theme deleted"})
}
