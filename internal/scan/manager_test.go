package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

type fakeStore struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*database.Scan
	queued []QueuedScan
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[uuid.UUID]*database.Scan{}}
}

func (f *fakeStore) CreateQueued(ctx context.Context, s *database.Scan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeStore) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.Status = "running"
		r.StartedAt = &at
	}
	return nil
}

func (f *fakeStore) MarkCanceled(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.Status = "canceled"
		r.FinishedAt = &at
	}
	return nil
}

func (f *fakeStore) MarkFinished(ctx context.Context, id uuid.UUID, status string, findings *int, output string, errMsg *string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		r = &database.Scan{ID: id}
		f.rows[id] = r
	}
	r.Status = status
	r.FindingsCount = findings
	r.Output = output
	r.Error = errMsg
	r.FinishedAt = &at
	return nil
}

func (f *fakeStore) FailStaleRunning(ctx context.Context, errMsg string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Status == "running" {
			r.Status = "failed"
			msg := errMsg
			r.Error = &msg
			r.FinishedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListQueuedWithPaths(ctx context.Context) ([]QueuedScan, error) {
	return f.queued, nil
}

func (f *fakeStore) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		return r.Status
	}
	return ""
}

func (f *fakeStore) row(id uuid.UUID) database.Scan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 5s")
}

func testTools() map[string]Tool {
	return map[string]Tool{
		"echo": {Name: "echo", Argv: []string{"echo", "{path}"}, TimeoutSeconds: 5, Parser: "lines"},
	}
}

func TestManager_ConcurrencyCapNeverExceeded(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testTools(), 2, nil)

	var inflight, peak, done atomic.Int32
	release := make(chan struct{})
	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		cur := inflight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		<-release
		inflight.Add(-1)
		done.Add(1)
		return &ExecResult{Output: []byte("ok\n")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	for i := 0; i < 5; i++ {
		_, err := m.Enqueue(ctx, uuid.New(), "/tmp/p", "echo")
		require.NoError(t, err)
	}

	waitFor(t, func() bool { return inflight.Load() == 2 })
	// the other three must still be queued
	assert.Len(t, m.Status().Queued, 3)

	close(release)
	waitFor(t, func() bool { return done.Load() == 5 })
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestManager_FIFOOrder(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testTools(), 1, nil)

	var mu sync.Mutex
	var order []string
	step := make(chan struct{}, 10)
	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		mu.Lock()
		order = append(order, path)
		mu.Unlock()
		step <- struct{}{}
		return &ExecResult{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	paths := []string{"/a", "/b", "/c", "/d"}
	for _, p := range paths {
		_, err := m.Enqueue(ctx, uuid.New(), p, "echo")
		require.NoError(t, err)
	}
	for range paths {
		select {
		case <-step:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for scans")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, paths, order)
}

func TestManager_CancelQueued(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testTools(), 1, nil)

	block := make(chan struct{})
	var ran atomic.Int32
	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		ran.Add(1)
		<-block
		return &ExecResult{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	first, err := m.Enqueue(ctx, uuid.New(), "/first", "echo")
	require.NoError(t, err)
	waitFor(t, func() bool { return store.status(first.ID) == "running" })

	second, err := m.Enqueue(ctx, uuid.New(), "/second", "echo")
	require.NoError(t, err)

	state, err := m.Cancel(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", state)
	assert.Equal(t, "canceled", store.status(second.ID))

	close(block)
	waitFor(t, func() bool { return store.status(first.ID) == "succeeded" })
	// the canceled scan never reached the executor
	assert.Equal(t, int32(1), ran.Load())
}

func TestManager_CancelRunningKillsProcess(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testTools(), 1, nil)

	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		<-ctx.Done()
		return &ExecResult{Err: ctx.Err(), ExitCode: -1}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	s, err := m.Enqueue(ctx, uuid.New(), "/p", "echo")
	require.NoError(t, err)
	waitFor(t, func() bool { return store.status(s.ID) == "running" })

	state, err := m.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceling", state)
	waitFor(t, func() bool { return store.status(s.ID) == "canceled" })
}

func TestManager_CancelTerminalReturnsErrNotActive(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testTools(), 1, nil)
	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		return &ExecResult{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	s, err := m.Enqueue(ctx, uuid.New(), "/p", "echo")
	require.NoError(t, err)
	waitFor(t, func() bool { return store.status(s.ID) == "succeeded" })

	_, err = m.Cancel(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestManager_FindingsExitCodeCountsAsSuccess(t *testing.T) {
	store := newFakeStore()
	tools := map[string]Tool{
		"sg": {Name: "sg", Argv: []string{"sg"}, TimeoutSeconds: 5, Parser: "json", FindingsExitCode: 1},
	}
	m := NewManager(store, tools, 1, nil)
	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		return &ExecResult{
			Output:   []byte(`{"results": [{"check_id": "a"}, {"check_id": "b"}]}`),
			ExitCode: 1,
			Err:      errors.New("exit status 1"),
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	s, err := m.Enqueue(ctx, uuid.New(), "/p", "sg")
	require.NoError(t, err)
	waitFor(t, func() bool { return store.status(s.ID) == "succeeded" })

	row := store.row(s.ID)
	require.NotNil(t, row.FindingsCount)
	assert.Equal(t, 2, *row.FindingsCount)
}

func TestManager_UnexpectedExitCodeFails(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testTools(), 1, nil)
	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		return &ExecResult{ExitCode: 2, Stderr: "semgrep: config error", Err: errors.New("exit status 2")}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	s, err := m.Enqueue(ctx, uuid.New(), "/p", "echo")
	require.NoError(t, err)
	waitFor(t, func() bool { return store.status(s.ID) == "failed" })

	row := store.row(s.ID)
	require.NotNil(t, row.Error)
	assert.Contains(t, *row.Error, "exit 2")
	assert.Contains(t, *row.Error, "config error")
}

func TestManager_TimeoutFailsWithMessage(t *testing.T) {
	store := newFakeStore()
	tools := map[string]Tool{
		"slow": {Name: "slow", Argv: []string{"slow"}, TimeoutSeconds: 1, Parser: "lines"},
	}
	m := NewManager(store, tools, 1, nil)
	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		<-ctx.Done()
		return &ExecResult{Err: ctx.Err(), ExitCode: -1}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	s, err := m.Enqueue(ctx, uuid.New(), "/p", "slow")
	require.NoError(t, err)
	waitFor(t, func() bool { return store.status(s.ID) == "failed" })

	row := store.row(s.ID)
	require.NotNil(t, row.Error)
	assert.Contains(t, *row.Error, "timed out")
}

func TestManager_EnqueueUnknownTool(t *testing.T) {
	m := NewManager(newFakeStore(), testTools(), 1, nil)
	_, err := m.Enqueue(context.Background(), uuid.New(), "/p", "nope")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestManager_ResumeReEnqueuesQueuedRows(t *testing.T) {
	store := newFakeStore()
	id1, id2 := uuid.New(), uuid.New()
	store.queued = []QueuedScan{
		{ID: id1, ProjectID: uuid.New(), Tool: "echo", ProjectPath: "/p1"},
		{ID: id2, ProjectID: uuid.New(), Tool: "gone", ProjectPath: "/p2"},
	}
	store.rows[id1] = &database.Scan{ID: id1, Status: "queued"}
	store.rows[id2] = &database.Scan{ID: id2, Status: "queued"}

	m := NewManager(store, testTools(), 1, nil)
	m.execTool = func(ctx context.Context, tool Tool, path string) *ExecResult {
		return &ExecResult{Output: []byte("ok\n")}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Resume(ctx))
	m.Start(ctx)

	waitFor(t, func() bool { return store.status(id1) == "succeeded" })
	// the row whose tool vanished from the registry fails instead of queueing forever
	assert.Equal(t, "failed", store.status(id2))
}

func TestManager_ResumeFailsInterruptedRunningRows(t *testing.T) {
	store := newFakeStore()
	stale := uuid.New()
	store.rows[stale] = &database.Scan{ID: stale, Status: "running"}

	m := NewManager(store, testTools(), 1, nil)
	require.NoError(t, m.Resume(context.Background()))

	assert.Equal(t, "failed", store.status(stale))
	row := store.row(stale)
	require.NotNil(t, row.Error)
	assert.Contains(t, *row.Error, "interrupted by shutdown")
	require.NotNil(t, row.FinishedAt)
}
