package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sys/unix"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/bus"
)

var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{Namespace: "opsdeck", Name: "alert_events_total", Help: "Fired alert events by rule kind"},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(eventsTotal)
}

// Evaluator walks enabled alert rules once a minute. A rule fires at most
// once per window: while an unacknowledged event from the current window
// exists, the rule stays quiet.
type Evaluator struct {
	evbus bus.Bus
	sched *cron.Cron

	// diskPath is the filesystem checked by disk_usage rules
	diskPath string

	// swapped out by tests
	diskUsage func(path string) (float64, error)
	notify    func(rule database.AlertRule, event database.AlertEvent)
	now       func() time.Time
}

func NewEvaluator(evbus bus.Bus) *Evaluator {
	diskPath := os.Getenv("OPSDECK_WORKSPACE_ROOT")
	if diskPath == "" {
		diskPath = "/"
	}
	return &Evaluator{
		evbus:     evbus,
		sched:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
		diskPath:  diskPath,
		diskUsage: diskUsagePercent,
		notify:    notifyWebhook,
		now:       time.Now,
	}
}

// Start schedules the evaluation pass every minute until ctx is canceled.
func (e *Evaluator) Start(ctx context.Context) error {
	_, err := e.sched.AddFunc("* * * * *", func() {
		if err := e.RunOnce(ctx); err != nil {
			log.Printf("alert evaluator: %v", err)
		}
	})
	if err != nil {
		return err
	}
	e.sched.Start()
	go func() {
		<-ctx.Done()
		e.sched.Stop()
	}()
	return nil
}

// RunOnce evaluates every enabled rule one time.
func (e *Evaluator) RunOnce(ctx context.Context) error {
	rules := []database.AlertRule{}
	if err := database.DB.SelectContext(ctx, &rules,
		`SELECT id, name, kind, threshold, window_minutes, webhook_url, enabled, created_at, updated_at
		 FROM alert_rules WHERE enabled = true`); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for _, rule := range rules {
		if err := e.evaluateRule(ctx, rule); err != nil {
			log.Printf("alert rule %s: %v", rule.Name, err)
		}
	}
	return nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule database.AlertRule) error {
	value, err := e.currentValue(ctx, rule)
	if err != nil {
		return err
	}
	if value < rule.Threshold {
		return nil
	}

	// suppress while an unacknowledged event from this window exists
	windowStart := e.now().Add(-time.Duration(rule.WindowMinutes) * time.Minute)
	var open int
	if err := database.DB.GetContext(ctx, &open,
		`SELECT COUNT(*) FROM alert_events WHERE rule_id=$1 AND fired_at > $2 AND acknowledged_at IS NULL`,
		rule.ID, windowStart); err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	return e.Fire(ctx, rule, value, fmt.Sprintf("%s: value %.2f breached threshold %.2f", rule.Name, value, rule.Threshold))
}

// Fire records an event, notifies the webhook, and publishes a bus event.
// Also used by the test-fire endpoint.
func (e *Evaluator) Fire(ctx context.Context, rule database.AlertRule, value float64, message string) error {
	event := database.AlertEvent{
		ID:      uuid.New(),
		RuleID:  rule.ID,
		Message: message,
		Value:   value,
		FiredAt: e.now(),
	}
	if _, err := database.DB.NamedExecContext(ctx, `INSERT INTO alert_events (id, rule_id, message, value, fired_at)
		VALUES (:id, :rule_id, :message, :value, :fired_at)`, event); err != nil {
		return err
	}
	eventsTotal.WithLabelValues(rule.Kind).Inc()

	// fire and forget: neither the webhook nor the bus may block the pass
	go e.notify(rule, event)
	if e.evbus != nil {
		payload, _ := json.Marshal(map[string]any{
			"rule_id": rule.ID.String(), "event_id": event.ID.String(),
			"kind": rule.Kind, "message": message, "value": value,
		})
		_ = e.evbus.Publish(context.Background(), bus.Event{Topic: bus.TopicAlertFired, Payload: payload})
	}
	return nil
}

func (e *Evaluator) currentValue(ctx context.Context, rule database.AlertRule) (float64, error) {
	windowStart := e.now().Add(-time.Duration(rule.WindowMinutes) * time.Minute)
	switch rule.Kind {
	case "disk_usage":
		return e.diskUsage(e.diskPath)
	case "scan_findings":
		var n float64
		err := database.DB.GetContext(ctx, &n,
			`SELECT COALESCE(SUM(findings_count), 0) FROM scans WHERE status='succeeded' AND finished_at > $1`, windowStart)
		return n, err
	case "agent_failures":
		var n float64
		err := database.DB.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM agent_runs WHERE status IN ('failed', 'timed_out') AND started_at > $1`, windowStart)
		return n, err
	default:
		return 0, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

// diskUsagePercent returns used space as a percentage of the filesystem
// holding path.
func diskUsagePercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return 0, nil
	}
	free := st.Bavail * uint64(st.Bsize)
	return 100 * float64(total-free) / float64(total), nil
}
