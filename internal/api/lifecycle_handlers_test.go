package api

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/scan"
)

func TestEnqueueProjectScan_UnknownToolIsBadRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	SetScanManager(scan.NewManager(scan.NewSQLStore(), scan.DefaultTools(), 1, nil))

	projectID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, path, description, created_at, updated_at FROM projects WHERE id=$1`)).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "path", "description", "created_at", "updated_at"}).
			AddRow(projectID.String(), "demo", "/srv/projects/demo", nil, time.Now(), time.Now()))

	c, w := newJSONTestContext(t, "POST", "/api/v1/projects/"+projectID.String()+"/scans", map[string]string{
		"tool": "definitely-not-a-tool",
	})
	c.Params = gin.Params{{Key: "projectId", Value: projectID.String()}}
	EnqueueProjectScan(c)

	if w.Code != 400 {
		t.Fatalf("unknown tool: expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestEnqueueScan_UnknownToolIsBadRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	SetScanManager(scan.NewManager(scan.NewSQLStore(), scan.DefaultTools(), 1, nil))

	projectID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, path, description, created_at, updated_at FROM projects WHERE id=$1`)).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "path", "description", "created_at", "updated_at"}).
			AddRow(projectID.String(), "demo", "/srv/projects/demo", nil, time.Now(), time.Now()))

	c, w := newJSONTestContext(t, "POST", "/api/v1/scans", EnqueueScanRequest{
		ProjectID: projectID,
		Tool:      "definitely-not-a-tool",
	})
	EnqueueScan(c)

	if w.Code != 400 {
		t.Fatalf("unknown tool: expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelScan_UnknownIDIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	SetScanManager(scan.NewManager(scan.NewSQLStore(), scan.DefaultTools(), 1, nil))

	scanID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM scans WHERE id=$1`)).
		WithArgs(scanID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))

	c, w := newJSONTestContext(t, "POST", "/api/v1/scans/"+scanID.String()+"/cancel", nil)
	c.Params = gin.Params{{Key: "scanId", Value: scanID.String()}}
	CancelScan(c)

	if w.Code != 404 {
		t.Fatalf("unknown scan: expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelScan_TerminalRowConflicts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	SetScanManager(scan.NewManager(scan.NewSQLStore(), scan.DefaultTools(), 1, nil))

	scanID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM scans WHERE id=$1`)).
		WithArgs(scanID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	c, w := newJSONTestContext(t, "POST", "/api/v1/scans/"+scanID.String()+"/cancel", nil)
	c.Params = gin.Params{{Key: "scanId", Value: scanID.String()}}
	CancelScan(c)

	if w.Code != 409 {
		t.Fatalf("terminal scan: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelScan_LookupErrorIsServerError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	SetScanManager(scan.NewManager(scan.NewSQLStore(), scan.DefaultTools(), 1, nil))

	scanID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM scans WHERE id=$1`)).
		WithArgs(scanID).
		WillReturnError(errors.New("connection reset by peer"))

	c, w := newJSONTestContext(t, "POST", "/api/v1/scans/"+scanID.String()+"/cancel", nil)
	c.Params = gin.Params{{Key: "scanId", Value: scanID.String()}}
	CancelScan(c)

	if w.Code != 500 {
		t.Fatalf("lookup failure: expected 500, got %d: %s", w.Code, w.Body.String())
	}
}
