package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/bus"
)

// Store persists scan rows. The SQL implementation lives in store.go; tests
// swap in an in-memory fake.
type Store interface {
	CreateQueued(ctx context.Context, s *database.Scan) error
	MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkCanceled(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFinished(ctx context.Context, id uuid.UUID, status string, findings *int, output string, errMsg *string, at time.Time) error
	ListQueuedWithPaths(ctx context.Context) ([]QueuedScan, error)
	FailStaleRunning(ctx context.Context, errMsg string, at time.Time) (int64, error)
}

// QueuedScan is a queued row joined with its project path, used to rebuild
// the in-memory queue on boot.
type QueuedScan struct {
	ID          uuid.UUID `db:"id"`
	ProjectID   uuid.UUID `db:"project_id"`
	Tool        string    `db:"tool"`
	ProjectPath string    `db:"project_path"`
}

// ErrUnknownTool is returned by Enqueue for tools not in the registry.
var ErrUnknownTool = errors.New("unknown scan tool")

// ErrNotActive is returned by Cancel when the scan is neither queued nor running.
var ErrNotActive = errors.New("scan is not queued or running")

// outputCap bounds stored tool output; scanners can be extremely chatty.
const outputCap = 64 * 1024

type job struct {
	id        uuid.UUID
	projectID uuid.UUID
	tool      Tool
	path      string
	canceled  bool // set under Manager.mu before the run context is canceled
}

type runningEntry struct {
	job    *job
	cancel context.CancelFunc
}

// ExecResult is the outcome of one tool subprocess.
type ExecResult struct {
	Output   []byte
	Stderr   string
	ExitCode int
	Err      error
}

// Manager is a bounded FIFO queue over external scanner subprocesses. At most
// `concurrency` tools run at once; everything else waits in arrival order.
// Queued scans cancel instantly, running scans cancel by killing the process.
type Manager struct {
	store Store
	tools map[string]Tool
	evbus bus.Bus
	sem   *semaphore.Weighted
	cap   int64

	mu        sync.Mutex
	queue     []*job
	queuedSet map[uuid.UUID]*job
	running   map[uuid.UUID]*runningEntry
	wake      chan struct{}

	// execTool is swapped out by tests
	execTool func(ctx context.Context, t Tool, path string) *ExecResult
}

func NewManager(store Store, tools map[string]Tool, concurrency int, evbus bus.Bus) *Manager {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Manager{
		store:     store,
		tools:     tools,
		evbus:     evbus,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		cap:       int64(concurrency),
		queuedSet: map[uuid.UUID]*job{},
		running:   map[uuid.UUID]*runningEntry{},
		wake:      make(chan struct{}, 1),
		execTool:  runToolProcess,
	}
}

// Tools exposes the registry for the tools listing endpoint.
func (m *Manager) Tools() map[string]Tool { return m.tools }

// Enqueue inserts a queued row and schedules the scan. It returns immediately;
// the dispatch loop picks the job up when a worker slot frees.
func (m *Manager) Enqueue(ctx context.Context, projectID uuid.UUID, projectPath, toolName string) (*database.Scan, error) {
	tool, ok := m.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}
	s := &database.Scan{
		ID:        uuid.New(),
		ProjectID: projectID,
		Tool:      tool.Name,
		Status:    "queued",
		QueuedAt:  time.Now(),
	}
	if err := m.store.CreateQueued(ctx, s); err != nil {
		return nil, err
	}
	m.push(&job{id: s.ID, projectID: projectID, tool: tool, path: projectPath})
	return s, nil
}

// Resume recovers rows left over by a previous process: scans that were
// running when it died are marked failed, queued ones go back on the queue.
func (m *Manager) Resume(ctx context.Context) error {
	if n, err := m.store.FailStaleRunning(ctx, "interrupted by shutdown", time.Now()); err != nil {
		return err
	} else if n > 0 {
		log.Printf("scan: marked %d interrupted scans failed", n)
	}
	rows, err := m.store.ListQueuedWithPaths(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		tool, ok := m.tools[r.Tool]
		if !ok {
			log.Printf("scan: dropping queued scan %s: tool %q no longer registered", r.ID, r.Tool)
			msg := "tool no longer registered"
			_ = m.store.MarkFinished(ctx, r.ID, "failed", nil, "", &msg, time.Now())
			continue
		}
		m.push(&job{id: r.ID, projectID: r.ProjectID, tool: tool, path: r.ProjectPath})
	}
	if len(rows) > 0 {
		log.Printf("scan: re-enqueued %d scans from previous run", len(rows))
	}
	return nil
}

func (m *Manager) push(j *job) {
	m.mu.Lock()
	m.queue = append(m.queue, j)
	m.queuedSet[j.id] = j
	depth := len(m.queue)
	m.mu.Unlock()
	setQueueDepth(depth)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is canceled. Call once.
func (m *Manager) Start(ctx context.Context) {
	go m.dispatch(ctx)
}

func (m *Manager) dispatch(ctx context.Context) {
	for {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return // shutdown
		}
		j := m.pop()
		for j == nil {
			select {
			case <-ctx.Done():
				m.sem.Release(1)
				return
			case <-m.wake:
			}
			j = m.pop()
		}
		go m.execute(ctx, j)
	}
}

func (m *Manager) pop() *job {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) > 0 {
		j := m.queue[0]
		m.queue = m.queue[1:]
		if _, stillQueued := m.queuedSet[j.id]; !stillQueued {
			continue // canceled while queued
		}
		delete(m.queuedSet, j.id)
		setQueueDepth(len(m.queue))
		return j
	}
	setQueueDepth(0)
	return nil
}

func (m *Manager) execute(parent context.Context, j *job) {
	defer m.sem.Release(1)

	now := time.Now()
	if err := m.store.MarkRunning(parent, j.id, now); err != nil {
		log.Printf("scan %s: mark running failed: %v", j.id, err)
	}
	timeout := time.Duration(j.tool.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	m.mu.Lock()
	m.running[j.id] = &runningEntry{job: j, cancel: cancel}
	runningCount := len(m.running)
	m.mu.Unlock()
	setRunning(runningCount)
	m.publish(bus.TopicScanStarted, map[string]any{"scan_id": j.id.String(), "project_id": j.projectID.String(), "tool": j.tool.Name})

	start := time.Now()
	res := m.execTool(runCtx, j.tool, j.path)
	elapsed := time.Since(start)

	m.mu.Lock()
	delete(m.running, j.id)
	runningCount = len(m.running)
	wasCanceled := j.canceled
	m.mu.Unlock()
	setRunning(runningCount)

	output := capBytes(res.Output, outputCap)
	finished := time.Now()

	var status string
	switch {
	case wasCanceled:
		status = "canceled"
		if err := m.store.MarkCanceled(context.Background(), j.id, finished); err != nil {
			log.Printf("scan %s: mark canceled failed: %v", j.id, err)
		}
	case res.Err == nil, res.ExitCode != 0 && res.ExitCode == j.tool.FindingsExitCode:
		status = "succeeded"
		n := CountFindings(j.tool.Parser, res.Output)
		if err := m.store.MarkFinished(context.Background(), j.id, status, &n, string(output), nil, finished); err != nil {
			log.Printf("scan %s: mark finished failed: %v", j.id, err)
		}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		status = "failed"
		msg := fmt.Sprintf("timed out after %ds", j.tool.TimeoutSeconds)
		if err := m.store.MarkFinished(context.Background(), j.id, status, nil, string(output), &msg, finished); err != nil {
			log.Printf("scan %s: mark failed failed: %v", j.id, err)
		}
	case parent.Err() != nil:
		// server shutdown killed the process
		status = "failed"
		msg := "interrupted by shutdown"
		_ = m.store.MarkFinished(context.Background(), j.id, status, nil, string(output), &msg, finished)
	default:
		status = "failed"
		msg := fmt.Sprintf("exit %d: %s", res.ExitCode, capString(res.Stderr, 512))
		if err := m.store.MarkFinished(context.Background(), j.id, status, nil, string(output), &msg, finished); err != nil {
			log.Printf("scan %s: mark failed failed: %v", j.id, err)
		}
	}
	recordScan(j.tool.Name, status, elapsed)
	m.publish(bus.TopicScanFinished, map[string]any{"scan_id": j.id.String(), "project_id": j.projectID.String(), "tool": j.tool.Name, "status": status})
}

// Cancel cancels a queued or running scan. Queued scans flip to canceled
// immediately; running scans have their subprocess killed and flip once the
// process exits. Terminal scans return ErrNotActive.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	if _, ok := m.queuedSet[id]; ok {
		delete(m.queuedSet, id) // pop() will skip the stale queue entry
		m.mu.Unlock()
		if err := m.store.MarkCanceled(ctx, id, time.Now()); err != nil {
			return "", err
		}
		m.publish(bus.TopicScanFinished, map[string]any{"scan_id": id.String(), "status": "canceled"})
		return "canceled", nil
	}
	if entry, ok := m.running[id]; ok {
		entry.job.canceled = true
		cancel := entry.cancel
		m.mu.Unlock()
		cancel()
		return "canceling", nil
	}
	m.mu.Unlock()
	return "", ErrNotActive
}

// QueueStatus is the live queue snapshot for the status endpoint.
type QueueStatus struct {
	Concurrency int         `json:"concurrency"`
	Running     []uuid.UUID `json:"running"`
	Queued      []uuid.UUID `json:"queued"`
}

func (m *Manager) Status() QueueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := QueueStatus{Concurrency: int(m.cap), Running: []uuid.UUID{}, Queued: []uuid.UUID{}}
	for id := range m.running {
		st.Running = append(st.Running, id)
	}
	for _, j := range m.queue {
		if _, ok := m.queuedSet[j.id]; ok {
			st.Queued = append(st.Queued, j.id)
		}
	}
	return st
}

func (m *Manager) publish(topic string, payload map[string]any) {
	if m.evbus == nil {
		return
	}
	b, _ := json.Marshal(payload)
	_ = m.evbus.Publish(context.Background(), bus.Event{Topic: topic, Payload: b})
}

func capBytes(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func capString(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
