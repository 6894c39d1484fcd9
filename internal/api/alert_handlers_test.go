package api

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

func TestCreateAlertRule_AppliesDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO alert_rules`)).
		WithArgs(sqlmock.AnyArg(), "disk watch", "disk_usage", 90.0, 60, "https://hooks.example.com/x", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	webhook := "https://hooks.example.com/x"
	c, w := newJSONTestContext(t, "POST", "/api/v1/alerts/rules", CreateAlertRuleRequest{
		Name:       "disk watch",
		Kind:       "disk_usage",
		Threshold:  90,
		WebhookURL: &webhook,
	})
	CreateAlertRule(c)

	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var rule database.AlertRule
	if err := json.Unmarshal(w.Body.Bytes(), &rule); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if rule.WindowMinutes != 60 {
		t.Fatalf("expected default window of 60 minutes, got %d", rule.WindowMinutes)
	}
	if !rule.Enabled {
		t.Fatal("expected rule to be enabled by default")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAlertRule_RejectsUnknownKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, w := newJSONTestContext(t, "POST", "/api/v1/alerts/rules", map[string]interface{}{
		"name":        "bogus",
		"kind":        "cpu_fires",
		"threshold":   1,
		"webhook_url": "https://hooks.example.com/x",
	})
	CreateAlertRule(c)
	if w.Code != 400 {
		t.Fatalf("expected 400 for unknown kind, got %d", w.Code)
	}
}

func TestAckAlertEvent_AlreadyAcknowledged(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	eventID := "b7f2a6f0-0000-4000-8000-00000000beef"
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE alert_events SET acknowledged_at=NOW() WHERE id=$1 AND acknowledged_at IS NULL`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	c, w := newJSONTestContext(t, "POST", "/api/v1/alerts/events/"+eventID+"/ack", nil)
	c.Params = gin.Params{{Key: "eventId", Value: eventID}}
	AckAlertEvent(c)

	if w.Code != 404 {
		t.Fatalf("expected 404 when nothing was updated, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateAlertRule_NoFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ruleID := "b7f2a6f0-0000-4000-8000-00000000cafe"
	c, w := newJSONTestContext(t, "PATCH", "/api/v1/alerts/rules/"+ruleID, map[string]interface{}{})
	c.Params = gin.Params{{Key: "ruleId", Value: ruleID}}
	UpdateAlertRule(c)
	if w.Code != 400 {
		t.Fatalf("expected 400 for empty update, got %d", w.Code)
	}
}
