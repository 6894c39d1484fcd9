package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/bus"
)

// ErrBusy is returned when an agent is triggered while its previous run is
// still active. Triggers never queue up behind each other.
var ErrBusy = errors.New("agent already has an active run")

// outputCap bounds stored run output.
const outputCap = 64 * 1024

var runsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{Namespace: "opsdeck", Name: "agent_runs_total", Help: "Agent runs by trigger and status"},
	[]string{"trigger", "status"},
)

func init() {
	prometheus.MustRegister(runsTotal)
}

// Runner executes agent commands through `sh -c` with a timeout and records
// each run as an agent_runs row.
type Runner struct {
	evbus bus.Bus

	mu     sync.Mutex
	active map[uuid.UUID]bool
}

func NewRunner(evbus bus.Bus) *Runner {
	return &Runner{evbus: evbus, active: map[uuid.UUID]bool{}}
}

// Start inserts a running row and executes the command in the background.
// The returned run is in the "running" state.
func (r *Runner) Start(ctx context.Context, ag database.Agent, dir, trigger string) (*database.AgentRun, error) {
	r.mu.Lock()
	if r.active[ag.ID] {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.active[ag.ID] = true
	r.mu.Unlock()

	run := &database.AgentRun{
		ID:        uuid.New(),
		AgentID:   ag.ID,
		Trigger:   trigger,
		Status:    "running",
		StartedAt: time.Now(),
	}
	_, err := database.DB.NamedExecContext(ctx, `INSERT INTO agent_runs (id, agent_id, trigger, status, output, started_at)
		VALUES (:id, :agent_id, :trigger, :status, :output, :started_at)`, run)
	if err != nil {
		r.mu.Lock()
		delete(r.active, ag.ID)
		r.mu.Unlock()
		return nil, err
	}

	go r.execute(ag, dir, run)
	return run, nil
}

func (r *Runner) execute(ag database.Agent, dir string, run *database.AgentRun) {
	defer func() {
		r.mu.Lock()
		delete(r.active, ag.ID)
		r.mu.Unlock()
	}()

	timeout := time.Duration(ag.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", ag.Command)
	if dir != "" {
		cmd.Dir = dir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	finished := time.Now()

	status := "succeeded"
	exitCode := 0
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = "timed_out"
		exitCode = -1
	default:
		status = "failed"
		exitCode = -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		}
	}

	output := out.Bytes()
	if len(output) > outputCap {
		output = output[:outputCap]
	}
	_, uerr := database.DB.Exec(`UPDATE agent_runs SET status=$1, exit_code=$2, output=$3, finished_at=$4 WHERE id=$5`,
		status, exitCode, string(output), finished, run.ID)
	if uerr != nil {
		log.Printf("agent run %s: update failed: %v", run.ID, uerr)
	}

	runsTotal.WithLabelValues(run.Trigger, status).Inc()
	if r.evbus != nil {
		payload, _ := json.Marshal(map[string]any{
			"agent_id": ag.ID.String(), "run_id": run.ID.String(),
			"status": status, "trigger": run.Trigger,
		})
		_ = r.evbus.Publish(context.Background(), bus.Event{Topic: bus.TopicAgentRunFinished, Payload: payload})
	}
}
