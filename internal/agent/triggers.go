package agent

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

// agentRow joins an agent with its project path for working-dir resolution.
type agentRow struct {
	database.Agent
	ProjectPath *string `db:"project_path"`
}

// resolveDir picks the directory a run executes in: explicit working_dir
// wins, then the project path, then the process cwd.
func resolveDir(ag database.Agent, projectPath *string) string {
	if ag.WorkingDir != nil && *ag.WorkingDir != "" {
		return *ag.WorkingDir
	}
	if projectPath != nil {
		return *projectPath
	}
	return ""
}

type fileTrigger struct {
	agent database.Agent
	dir   string
	glob  string
}

// Engine owns the file and schedule triggers. Reload rebuilds both from the
// agents table; the API handlers call it after every agent mutation.
type Engine struct {
	runner   *Runner
	sched    *cron.Cron
	debounce time.Duration

	mu      sync.Mutex
	cronIDs map[uuid.UUID]cron.EntryID
	watched map[uuid.UUID]*fileTrigger
	timers  map[uuid.UUID]*time.Timer
	watcher *fsnotify.Watcher
}

func NewEngine(runner *Runner) (*Engine, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Engine{
		runner:   runner,
		sched:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
		debounce: 2 * time.Second,
		cronIDs:  map[uuid.UUID]cron.EntryID{},
		watched:  map[uuid.UUID]*fileTrigger{},
		timers:   map[uuid.UUID]*time.Timer{},
		watcher:  watcher,
	}, nil
}

// Start begins the scheduler and the watch loop, then loads the current
// agents. Blocks only on the initial load.
func (e *Engine) Start(ctx context.Context) error {
	e.sched.Start()
	go e.watchLoop(ctx)
	return e.Reload(ctx)
}

// Reload rebuilds cron entries and filesystem watches from the DB.
func (e *Engine) Reload(ctx context.Context) error {
	rows := []agentRow{}
	err := database.DB.SelectContext(ctx, &rows, `SELECT a.id, a.project_id, a.name, a.command, a.working_dir,
			a.trigger_type, a.trigger_spec, a.timeout_seconds, a.enabled, a.created_by_user_id, a.created_at, a.updated_at,
			p.path AS project_path
		FROM agents a LEFT JOIN projects p ON p.id = a.project_id
		WHERE a.enabled = true AND a.trigger_type IN ('file', 'schedule')`)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// drop everything, then re-register; agent churn is rare
	for _, id := range e.cronIDs {
		e.sched.Remove(id)
	}
	e.cronIDs = map[uuid.UUID]cron.EntryID{}
	for _, ft := range e.watched {
		_ = e.watcher.Remove(ft.dir)
	}
	e.watched = map[uuid.UUID]*fileTrigger{}

	for _, row := range rows {
		ag := row.Agent
		spec := ""
		if ag.TriggerSpec != nil {
			spec = strings.TrimSpace(*ag.TriggerSpec)
		}
		dir := resolveDir(ag, row.ProjectPath)

		switch ag.TriggerType {
		case "schedule":
			if spec == "" {
				log.Printf("agent %s: schedule trigger without cron spec, skipping", ag.Name)
				continue
			}
			agent := ag
			runDir := dir
			id, err := e.sched.AddFunc(spec, func() {
				if _, err := e.runner.Start(context.Background(), agent, runDir, "schedule"); err != nil && err != ErrBusy {
					log.Printf("agent %s: scheduled run failed to start: %v", agent.Name, err)
				}
			})
			if err != nil {
				log.Printf("agent %s: bad cron spec %q: %v", ag.Name, spec, err)
				continue
			}
			e.cronIDs[ag.ID] = id
		case "file":
			if dir == "" {
				log.Printf("agent %s: file trigger without directory, skipping", ag.Name)
				continue
			}
			glob := spec
			if glob == "" {
				glob = "*"
			}
			if err := e.watcher.Add(dir); err != nil {
				log.Printf("agent %s: cannot watch %s: %v", ag.Name, dir, err)
				continue
			}
			e.watched[ag.ID] = &fileTrigger{agent: ag, dir: dir, glob: glob}
		}
	}
	return nil
}

func (e *Engine) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = e.watcher.Close()
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			e.handleFileEvent(event.Name)
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("agent watcher error: %v", err)
		}
	}
}

func (e *Engine) handleFileEvent(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ft := range e.watched {
		if !matchesTrigger(ft, path) {
			continue
		}
		// debounce editor save storms: restart the timer on every event and
		// fire once after things settle
		agent := ft.agent
		dir := ft.dir
		if t, ok := e.timers[id]; ok {
			t.Stop()
		}
		e.timers[id] = time.AfterFunc(e.debounce, func() {
			if _, err := e.runner.Start(context.Background(), agent, dir, "file"); err != nil {
				if err == ErrBusy {
					log.Printf("agent %s: busy, skipping file trigger", agent.Name)
				} else {
					log.Printf("agent %s: file-triggered run failed to start: %v", agent.Name, err)
				}
			}
		})
	}
}

// matchesTrigger reports whether an fsnotify event path belongs to the
// trigger's directory and matches its glob.
func matchesTrigger(ft *fileTrigger, path string) bool {
	rel, err := filepath.Rel(ft.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	ok, err := filepath.Match(ft.glob, filepath.Base(path))
	return err == nil && ok
}
