package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/utils"
)

func newJSONTestContext(t *testing.T, method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	c.Request = httptest.NewRequest(method, path, rdr)
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func TestRegisterUser_FirstUserBecomesAdmin(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs(sqlmock.AnyArg(), "Ada Lovelace", "ada@example.com", sqlmock.AnyArg(), "admin", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c, w := newJSONTestContext(t, "POST", "/api/v1/auth/register", RegisterRequest{
		FullName: "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "Sup3r$ecretPw!",
	})
	RegisterUser(c)

	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["role"] != "admin" {
		t.Fatalf("expected first user role admin, got %v", resp["role"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterUser_LaterUsersAreViewers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	os.Setenv("OPSDECK_JWT_SECRET", "test-secret-for-register")
	defer os.Unsetenv("OPSDECK_JWT_SECRET")
	adminID := uuid.New()
	adminToken, err := utils.GenerateJWT(adminID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT role FROM users WHERE id=$1`)).
		WithArgs(adminID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs(sqlmock.AnyArg(), "Grace Hopper", "grace@example.com", sqlmock.AnyArg(), "viewer", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c, w := newJSONTestContext(t, "POST", "/api/v1/auth/register", RegisterRequest{
		FullName: "Grace Hopper",
		Email:    "grace@example.com",
		Password: "An0ther$ecret!",
	})
	c.Request.Header.Set("Authorization", "Bearer "+adminToken)
	RegisterUser(c)

	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["role"] != "viewer" {
		t.Fatalf("expected role viewer, got %v", resp["role"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterUser_DuplicateEmailConflicts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	os.Setenv("OPSDECK_JWT_SECRET", "test-secret-for-register")
	defer os.Unsetenv("OPSDECK_JWT_SECRET")
	adminID := uuid.New()
	adminToken, err := utils.GenerateJWT(adminID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT role FROM users WHERE id=$1`)).
		WithArgs(adminID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(errDuplicateEmail{})
	mock.ExpectRollback()

	c, w := newJSONTestContext(t, "POST", "/api/v1/auth/register", RegisterRequest{
		FullName: "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "Sup3r$ecretPw!",
	})
	c.Request.Header.Set("Authorization", "Bearer "+adminToken)
	RegisterUser(c)

	if w.Code != 409 {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterUser_ClosedWithoutAdminToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	c, w := newJSONTestContext(t, "POST", "/api/v1/auth/register", RegisterRequest{
		FullName: "Eve Mallory",
		Email:    "eve@example.com",
		Password: "Sup3r$ecretPw!",
	})
	RegisterUser(c)

	if w.Code != 403 {
		t.Fatalf("expected 403 once registration is closed, got %d: %s", w.Code, w.Body.String())
	}
}

type errDuplicateEmail struct{}

func (errDuplicateEmail) Error() string {
	return `pq: duplicate key value violates unique constraint "users_email_key"`
}

func TestLoginUser_WrongPassword(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	hashed, err := utils.HashPassword("TheRe@l0ne!x")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	rows := sqlmock.NewRows([]string{"id", "full_name", "email", "hashed_password", "role", "created_at", "updated_at"}).
		AddRow("7f3c1f9e-0000-4000-8000-000000000001", "Ada Lovelace", "ada@example.com", hashed, "admin", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, full_name, email, hashed_password, role, created_at, updated_at FROM users WHERE email=$1`)).
		WithArgs("ada@example.com").
		WillReturnRows(rows)

	c, w := newJSONTestContext(t, "POST", "/api/v1/auth/login", LoginRequest{
		Email:    "ada@example.com",
		Password: "not-the-password",
	})
	LoginUser(c)

	if w.Code != 401 {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLoginUser_UnknownEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, full_name, email, hashed_password, role, created_at, updated_at FROM users WHERE email=$1`)).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c, w := newJSONTestContext(t, "POST", "/api/v1/auth/login", LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever123!A",
	})
	LoginUser(c)

	if w.Code != 401 {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}
