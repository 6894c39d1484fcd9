package alert

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

func newMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	database.DB = sqlx.NewDb(db, "sqlmock")
	return mock
}

func testEvaluator(disk float64) (*Evaluator, chan database.AlertEvent) {
	fired := make(chan database.AlertEvent, 8)
	e := NewEvaluator(nil)
	e.diskUsage = func(string) (float64, error) { return disk, nil }
	e.notify = func(rule database.AlertRule, event database.AlertEvent) {
		fired <- event
	}
	e.now = func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) }
	return e, fired
}

func diskRule(threshold float64) database.AlertRule {
	return database.AlertRule{
		ID: uuid.New(), Name: "disk high", Kind: "disk_usage",
		Threshold: threshold, WindowMinutes: 60, Enabled: true,
	}
}

func TestEvaluateRule_BelowThresholdDoesNothing(t *testing.T) {
	mock := newMockDB(t)
	e, fired := testEvaluator(55)

	require.NoError(t, e.evaluateRule(context.Background(), diskRule(90)))
	assert.Empty(t, fired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluateRule_BreachFiresOnce(t *testing.T) {
	mock := newMockDB(t)
	e, fired := testEvaluator(95)
	rule := diskRule(90)

	countQ := regexp.QuoteMeta(`SELECT COUNT(*) FROM alert_events WHERE rule_id=$1 AND fired_at > $2 AND acknowledged_at IS NULL`)
	mock.ExpectQuery(countQ).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO alert_events").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, e.evaluateRule(context.Background(), rule))

	// notify runs in a goroutine
	select {
	case event := <-fired:
		assert.Equal(t, rule.ID, event.RuleID)
		assert.Contains(t, event.Message, "breached threshold")
	case <-time.After(time.Second):
		t.Fatal("webhook notification never fired")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluateRule_SuppressedWhileUnacknowledged(t *testing.T) {
	mock := newMockDB(t)
	e, fired := testEvaluator(95)

	countQ := regexp.QuoteMeta(`SELECT COUNT(*) FROM alert_events WHERE rule_id=$1 AND fired_at > $2 AND acknowledged_at IS NULL`)
	mock.ExpectQuery(countQ).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	require.NoError(t, e.evaluateRule(context.Background(), diskRule(90)))
	assert.Empty(t, fired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentValue_ScanFindings(t *testing.T) {
	mock := newMockDB(t)
	e, _ := testEvaluator(0)

	q := regexp.QuoteMeta(`SELECT COALESCE(SUM(findings_count), 0) FROM scans WHERE status='succeeded' AND finished_at > $1`)
	mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(12))

	rule := database.AlertRule{Kind: "scan_findings", WindowMinutes: 30}
	v, err := e.currentValue(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, float64(12), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentValue_UnknownKind(t *testing.T) {
	newMockDB(t)
	e, _ := testEvaluator(0)
	_, err := e.currentValue(context.Background(), database.AlertRule{Kind: "phase_of_moon"})
	assert.Error(t, err)
}
