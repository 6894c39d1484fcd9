package scan

import (
	"context"
	"time"

	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

// SQLStore persists scans through the shared sqlx pool.
type SQLStore struct{}

func NewSQLStore() *SQLStore { return &SQLStore{} }

func (s *SQLStore) CreateQueued(ctx context.Context, scan *database.Scan) error {
	_, err := database.DB.NamedExecContext(ctx, `INSERT INTO scans (id, project_id, tool, status, output, queued_at)
		VALUES (:id, :project_id, :tool, :status, :output, :queued_at)`, scan)
	return err
}

func (s *SQLStore) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := database.DB.ExecContext(ctx, `UPDATE scans SET status='running', started_at=$1 WHERE id=$2`, at, id)
	return err
}

func (s *SQLStore) MarkCanceled(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := database.DB.ExecContext(ctx, `UPDATE scans SET status='canceled', finished_at=$1 WHERE id=$2`, at, id)
	return err
}

func (s *SQLStore) MarkFinished(ctx context.Context, id uuid.UUID, status string, findings *int, output string, errMsg *string, at time.Time) error {
	_, err := database.DB.ExecContext(ctx, `UPDATE scans SET status=$1, findings_count=$2, output=$3, error=$4, finished_at=$5 WHERE id=$6`,
		status, findings, output, errMsg, at, id)
	return err
}

// FailStaleRunning flips rows a dead process left in 'running' to failed.
// Only call at boot, before the dispatch loop starts any scan.
func (s *SQLStore) FailStaleRunning(ctx context.Context, errMsg string, at time.Time) (int64, error) {
	res, err := database.DB.ExecContext(ctx, `UPDATE scans SET status='failed', error=$1, finished_at=$2 WHERE status='running'`, errMsg, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) ListQueuedWithPaths(ctx context.Context) ([]QueuedScan, error) {
	rows := []QueuedScan{}
	err := database.DB.SelectContext(ctx, &rows, `SELECT s.id, s.project_id, s.tool, p.path AS project_path
		FROM scans s JOIN projects p ON p.id = s.project_id
		WHERE s.status = 'queued' ORDER BY s.queued_at ASC`)
	return rows, err
}
