package api

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

func TestUpdateTheme_RenamesTheme(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	themeID := uuid.New()
	palette := json.RawMessage(`{"primary":"#112233"}`)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE themes SET name = ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs("midnight", themeID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, palette, is_default, created_at, updated_at FROM themes WHERE id=$1`)).
		WithArgs(themeID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "palette", "is_default", "created_at", "updated_at"}).
			AddRow(themeID.String(), "midnight", []byte(palette), false, time.Now(), time.Now()))

	name := "midnight"
	c, w := newJSONTestContext(t, "PUT", "/api/v1/themes/"+themeID.String(), UpdateThemeRequest{Name: &name})
	c.Params = gin.Params{{Key: "themeId", Value: themeID.String()}}
	UpdateTheme(c)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var theme database.Theme
	if err := json.Unmarshal(w.Body.Bytes(), &theme); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if theme.Name != "midnight" {
		t.Fatalf("expected renamed theme, got %q", theme.Name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateTheme_NoFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	themeID := uuid.New().String()
	c, w := newJSONTestContext(t, "PUT", "/api/v1/themes/"+themeID, map[string]interface{}{})
	c.Params = gin.Params{{Key: "themeId", Value: themeID}}
	UpdateTheme(c)
	if w.Code != 400 {
		t.Fatalf("expected 400 for empty update, got %d", w.Code)
	}
}

func TestUpdateTheme_UnknownThemeIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	themeID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE themes SET name = ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs("ghost", themeID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	name := "ghost"
	c, w := newJSONTestContext(t, "PUT", "/api/v1/themes/"+themeID.String(), UpdateThemeRequest{Name: &name})
	c.Params = gin.Params{{Key: "themeId", Value: themeID.String()}}
	UpdateTheme(c)

	if w.Code != 404 {
		t.Fatalf("expected 404 for unknown theme, got %d: %s", w.Code, w.Body.String())
	}
}
